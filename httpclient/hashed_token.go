package httpclient

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kroma-labs/apisdk-go/digest"
)

// HashAlgorithm selects the digest used to sign hashed tokens.
type HashAlgorithm int

const (
	HashSHA1 HashAlgorithm = iota
	HashMD5
	HashSHA256
)

// ParseHashAlgorithm maps "md5", "sha1" and "sha256" (any case) to an
// algorithm. Unknown names fall back to HashSHA1.
func ParseHashAlgorithm(s string) HashAlgorithm {
	switch strings.ToLower(s) {
	case "md5":
		return HashMD5
	case "sha256":
		return HashSHA256
	default:
		return HashSHA1
	}
}

func (a HashAlgorithm) String() string {
	switch a {
	case HashMD5:
		return "md5"
	case HashSHA256:
		return "sha256"
	default:
		return "sha1"
	}
}

// Sum returns the hex digest of input.
func (a HashAlgorithm) Sum(input string) string {
	switch a {
	case HashMD5:
		return digest.MD5([]byte(input))
	case HashSHA256:
		return digest.SHA256([]byte(input))
	default:
		return digest.SHA1([]byte(input))
	}
}

func hashedSign(algorithm HashAlgorithm, appID, appSecret string, ts int64) string {
	return algorithm.Sum(appID + appSecret + strconv.FormatInt(ts, 10))
}

// HashedTokenAuth signs requests with a time-stamped token derived from an
// application secret:
//
//	base64("[clientID,]appID,timestamp,hex(hash(appID + appSecret + timestamp)))")
//
// The timestamp is in unix seconds.
type HashedTokenAuth struct {
	clientID  string
	appID     string
	appSecret string
	algorithm HashAlgorithm
	carrier   Carrier

	now func() time.Time
}

// NewHashedTokenAuth returns a SHA-1 hashed token signature.
func NewHashedTokenAuth(appID, appSecret string) *HashedTokenAuth {
	return &HashedTokenAuth{appID: appID, appSecret: appSecret, algorithm: HashSHA1, now: time.Now}
}

// WithAlgorithm returns a copy using algorithm.
func (a *HashedTokenAuth) WithAlgorithm(algorithm HashAlgorithm) *HashedTokenAuth {
	c := *a
	c.algorithm = algorithm
	return &c
}

// WithClientID returns a copy that prefixes tokens with clientID.
// An empty clientID removes the prefix.
func (a *HashedTokenAuth) WithClientID(clientID string) *HashedTokenAuth {
	c := *a
	c.clientID = clientID
	return &c
}

// WithCarrier returns a copy using carrier.
func (a *HashedTokenAuth) WithCarrier(carrier Carrier) *HashedTokenAuth {
	c := *a
	c.carrier = carrier
	return &c
}

// WithHeaderName returns a copy carrying the token in the named header.
func (a *HashedTokenAuth) WithHeaderName(name string) *HashedTokenAuth {
	return a.WithCarrier(HeaderCarrier(name))
}

// WithQueryParam returns a copy carrying the token in the named query parameter.
func (a *HashedTokenAuth) WithQueryParam(name string) *HashedTokenAuth {
	return a.WithCarrier(QueryParamCarrier(name))
}

func (a *HashedTokenAuth) Carrier() Carrier { return a.carrier }

func (a *HashedTokenAuth) GenerateToken(_ *http.Request) (string, error) {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	return a.TokenAt(now().Unix()), nil
}

// TokenAt builds the token for the given unix timestamp.
func (a *HashedTokenAuth) TokenAt(ts int64) string {
	sign := hashedSign(a.algorithm, a.appID, a.appSecret, ts)

	parts := []string{a.appID, strconv.FormatInt(ts, 10), sign}
	if a.clientID != "" {
		parts = append([]string{a.clientID}, parts...)
	}
	return digest.EncodeBase64([]byte(strings.Join(parts, ",")))
}

// ErrTokenFormat is returned when a hashed token does not have three or
// four comma separated fields.
var ErrTokenFormat = errors.New("invalid hashed token format")

// ParsedHashedToken is the server-side view of a HashedTokenAuth token.
type ParsedHashedToken struct {
	ClientID  string
	AppID     string
	Timestamp int64
	Sign      string
}

// ParseHashedToken decodes token.
func ParseHashedToken(token string) (*ParsedHashedToken, error) {
	if token == "" {
		return nil, ErrTokenFormat
	}
	raw, err := digest.DecodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("decode hashed token: %w", err)
	}

	fields := strings.Split(string(raw), ",")
	var p ParsedHashedToken
	switch len(fields) {
	case 4:
		p.ClientID = fields[0]
		fields = fields[1:]
	case 3:
	default:
		return nil, ErrTokenFormat
	}

	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse hashed token timestamp: %w", err)
	}
	p.AppID, p.Timestamp, p.Sign = fields[0], ts, fields[2]
	return &p, nil
}

// DefaultTokenDeviation is the clock skew tolerated by IsExpired.
const DefaultTokenDeviation = time.Minute

// IsExpired reports whether the token is outside [now-expiresIn-deviation,
// now+deviation]. A non-positive deviation uses DefaultTokenDeviation.
func (p *ParsedHashedToken) IsExpired(expiresIn, deviation time.Duration) bool {
	return p.isExpiredAt(time.Now(), expiresIn, deviation)
}

func (p *ParsedHashedToken) isExpiredAt(now time.Time, expiresIn, deviation time.Duration) bool {
	if deviation <= 0 {
		deviation = DefaultTokenDeviation
	}
	dev := int64(deviation / time.Second)
	diff := now.Unix() - p.Timestamp
	return diff < -dev || diff > int64(expiresIn/time.Second)+dev
}

// IsSigned reports whether the token was signed with appSecret.
func (p *ParsedHashedToken) IsSigned(appSecret string, algorithm HashAlgorithm) bool {
	want := hashedSign(algorithm, p.AppID, appSecret, p.Timestamp)
	return subtle.ConstantTimeCompare([]byte(want), []byte(p.Sign)) == 1
}
