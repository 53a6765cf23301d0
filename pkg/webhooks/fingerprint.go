package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a stable dedupe key for a delivery whose provider
// did not supply an event id: sha256 over method, path and raw body.
// Providers that do supply an id dedupe on that instead.
func Fingerprint(method, path string, rawBody []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}
