package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/apisdk-go/digest"
)

func TestHashedTokenAuth_TokenAt(t *testing.T) {
	t.Parallel()

	const ts = int64(1700000000)

	tests := []struct {
		name      string
		auth      *HashedTokenAuth
		wantPlain string
	}{
		{
			name:      "given defaults, then sha1 without client id",
			auth:      NewHashedTokenAuth("app", "secret"),
			wantPlain: "app,1700000000," + digest.SHA1([]byte("appsecret1700000000")),
		},
		{
			name:      "given md5 and client id, then prefixes client id",
			auth:      NewHashedTokenAuth("app", "secret").WithAlgorithm(HashMD5).WithClientID("c1"),
			wantPlain: "c1,app,1700000000," + digest.MD5([]byte("appsecret1700000000")),
		},
		{
			name:      "given sha256, then uses sha256",
			auth:      NewHashedTokenAuth("app", "secret").WithAlgorithm(HashSHA256),
			wantPlain: "app,1700000000," + digest.SHA256([]byte("appsecret1700000000")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token := tt.auth.TokenAt(ts)
			plain, err := digest.DecodeBase64(token)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlain, string(plain))
		})
	}
}

func TestHashedTokenAuth_GenerateToken(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(1700000000, 0)
	auth := NewHashedTokenAuth("app", "secret").WithClientID("client").WithHeaderName("X-Auth")
	auth.now = func() time.Time { return fixed }

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	token, err := auth.GenerateToken(req)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenAt(fixed.Unix()), token)
	assert.Equal(t, HeaderCarrier("X-Auth"), auth.Carrier())

	parsed, err := ParseHashedToken(token)
	require.NoError(t, err)
	assert.Equal(t, "client", parsed.ClientID)
	assert.Equal(t, "app", parsed.AppID)
	assert.Equal(t, fixed.Unix(), parsed.Timestamp)
	assert.True(t, parsed.IsSigned("secret", HashSHA1))
	assert.False(t, parsed.IsSigned("other", HashSHA1))
	assert.False(t, parsed.IsSigned("secret", HashMD5))

	tampered := *parsed
	tampered.Sign = strings.Repeat("0", len(parsed.Sign))
	assert.False(t, tampered.IsSigned("secret", HashSHA1), "same length signature still differs")
	tampered.Sign = ""
	assert.False(t, tampered.IsSigned("secret", HashSHA1))
}

func TestParseHashedToken_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:  "given empty token, then format error",
			token: "",
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrTokenFormat)
			},
		},
		{
			name:  "given two fields, then format error",
			token: digest.EncodeBase64([]byte("app,123")),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrTokenFormat)
			},
		},
		{
			name:  "given five fields, then format error",
			token: digest.EncodeBase64([]byte("a,b,c,d,e")),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrTokenFormat)
			},
		},
		{
			name:    "given invalid base64, then decode error",
			token:   "%%%",
			wantErr: assert.Error,
		},
		{
			name:    "given non numeric timestamp, then parse error",
			token:   digest.EncodeBase64([]byte("app,yesterday,abc")),
			wantErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseHashedToken(tt.token)
			tt.wantErr(t, err)
		})
	}
}

func TestParsedHashedToken_IsExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	tests := []struct {
		name      string
		issuedAt  time.Time
		expiresIn time.Duration
		deviation time.Duration
		want      bool
	}{
		{name: "given fresh token, then valid", issuedAt: now, expiresIn: time.Minute, want: false},
		{name: "given token at expiry plus deviation, then valid", issuedAt: now.Add(-2 * time.Minute), expiresIn: time.Minute, want: false},
		{name: "given token past expiry and deviation, then expired", issuedAt: now.Add(-2*time.Minute - time.Second), expiresIn: time.Minute, want: true},
		{name: "given token from the future within deviation, then valid", issuedAt: now.Add(30 * time.Second), expiresIn: time.Minute, want: false},
		{name: "given token too far in the future, then expired", issuedAt: now.Add(2 * time.Minute), expiresIn: time.Minute, want: true},
		{name: "given explicit deviation, then uses it", issuedAt: now.Add(-70 * time.Second), expiresIn: time.Minute, deviation: 5 * time.Second, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &ParsedHashedToken{AppID: "app", Timestamp: tt.issuedAt.Unix()}
			assert.Equal(t, tt.want, p.isExpiredAt(now, tt.expiresIn, tt.deviation))
		})
	}
}

func TestParseHashAlgorithm(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashMD5, ParseHashAlgorithm("MD5"))
	assert.Equal(t, HashSHA256, ParseHashAlgorithm("sha256"))
	assert.Equal(t, HashSHA1, ParseHashAlgorithm("sha1"))
	assert.Equal(t, HashSHA1, ParseHashAlgorithm("crc32"))
	assert.Equal(t, "sha256", HashSHA256.String())
}
