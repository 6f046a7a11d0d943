// Package digest provides the hash and base64 helpers used to sign requests.
package digest

import (
	"crypto/md5"  //nolint:gosec // legacy signing schemes still use md5
	"crypto/sha1" //nolint:gosec // legacy signing schemes still use sha1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
)

// MD5 returns the hex encoded md5 digest of input.
func MD5(input []byte) string { return hexSum(md5.New(), input) }

// SHA1 returns the hex encoded sha1 digest of input.
func SHA1(input []byte) string { return hexSum(sha1.New(), input) }

// SHA256 returns the hex encoded sha256 digest of input.
func SHA256(input []byte) string { return hexSum(sha256.New(), input) }

// MD5Base64 returns the base64 encoded md5 digest of input.
func MD5Base64(input []byte) string { return base64Sum(md5.New(), input) }

// SHA1Base64 returns the base64 encoded sha1 digest of input.
func SHA1Base64(input []byte) string { return base64Sum(sha1.New(), input) }

// SHA256Base64 returns the base64 encoded sha256 digest of input.
func SHA256Base64(input []byte) string { return base64Sum(sha256.New(), input) }

// SHA256Parts hashes the concatenation of parts without joining them first.
func SHA256Parts(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeBase64 encodes input with the standard padded alphabet.
func EncodeBase64(input []byte) string {
	return base64.StdEncoding.EncodeToString(input)
}

// DecodeBase64 decodes standard padded base64.
func DecodeBase64(input string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(input)
}

func hexSum(h hash.Hash, input []byte) string {
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

func base64Sum(h hash.Hash, input []byte) string {
	h.Write(input)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
