package nexi

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// MACField is the name of the field carrying the message authentication code
const MACField = "mac"

// canonicalEscaper keeps the separators unambiguous: "%", "&" and "=" inside
// a key or value are percent-encoded so two different field sets never share
// a canonical string.
var canonicalEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")

// Canonical renders fields as key=value pairs sorted by key and joined with
// "&". The mac field is never part of the canonical string.
func Canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == MACField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(canonicalEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(canonicalEscaper.Replace(fields[k]))
	}
	return b.String()
}

// Sign computes the lowercase hex HMAC-SHA1 of the canonical form of fields
func Sign(fields map[string]string, key string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(Canonical(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC over the received fields and compares it with the
// mac field the peer supplied. A missing mac or an empty key never verifies.
func Verify(fields map[string]string, key string) bool {
	if key == "" {
		return false
	}
	received, ok := fields[MACField]
	if !ok || received == "" {
		return false
	}
	expected := Sign(fields, key)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(received))) == 1
}

// Signer binds the shared secret so callers never handle it directly
type Signer struct {
	key string
}

// NewSigner returns a Signer for the given shared secret
func NewSigner(key string) Signer {
	return Signer{key: key}
}

// Sign stores the MAC of fields into fields[MACField] and returns it
func (s Signer) Sign(fields map[string]string) string {
	mac := Sign(fields, s.key)
	fields[MACField] = mac
	return mac
}

// Verify reports whether fields carry a valid MAC for this signer's key
func (s Signer) Verify(fields map[string]string) bool {
	return Verify(fields, s.key)
}
