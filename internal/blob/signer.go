package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
)

// sign computes an HMAC-SHA256 over the canonical string "method:objectKey:expiresAt" using the
// hex-encoded secret key, generalizing the teacher's single-identifier auth.HMACIdentifier into a
// request-signing primitive.
func sign(method, objectKey string, expiresAt int64, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("decode signing key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s:%s:%d", method, objectKey, expiresAt)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// buildURL constructs a pre-signed object-store URL for objectKey, expiring at expiresAt.
func buildURL(endpoint, bucket, objectKey string, expiresAt int64, signature string) string {
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiresAt, 10))
	q.Set("signature", signature)
	return fmt.Sprintf("%s/%s/%s?%s", endpoint, bucket, url.PathEscape(objectKey), q.Encode())
}
