package record

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainEnvelope separates envelope fingerprints from any other hash use.
const DomainEnvelope = "subtrackr/envelope/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content hash of e's logical state.
func Fingerprint(e Envelope) string {
	return hashWithDomain(DomainEnvelope, mustCanonical(e.canonical()))
}

// Same reports whether a and b carry the same logical state.
func Same(a, b Envelope) bool {
	return Fingerprint(a) == Fingerprint(b)
}
