// Package signature verifies Ed25519 tip signatures produced by device keys.
package signature

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// spkiPrefix is the DER SubjectPublicKeyInfo header for an Ed25519 key.
var spkiPrefix, _ = hex.DecodeString("302a300506032b6570032100")

// SPKILength is the size of a DER-encoded Ed25519 public key.
var SPKILength = len(spkiPrefix) + ed25519.PublicKeySize

// Verify reports whether signatureBase64 is a valid signature of message under
// publicKey. publicKey is either a raw 32-byte key or its 44-byte SPKI
// encoding. Any decode or verification failure yields false.
func Verify(publicKey, message []byte, signatureBase64 string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	key, valid := parsePublicKey(publicKey)
	if !valid {
		return false
	}
	sig, err := decodeSignature(signatureBase64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, message, sig)
}

// ValidKey reports whether raw is an acceptable device public key.
func ValidKey(raw []byte) bool {
	_, ok := parsePublicKey(raw)
	return ok
}

func parsePublicKey(raw []byte) (ed25519.PublicKey, bool) {
	var der []byte
	switch len(raw) {
	case ed25519.PublicKeySize:
		der = make([]byte, 0, SPKILength)
		der = append(der, spkiPrefix...)
		der = append(der, raw...)
	case SPKILength:
		der = raw
	default:
		return nil, false
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, false
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok || len(key) != ed25519.PublicKeySize {
		return nil, false
	}
	return key, true
}

// decodeSignature accepts standard base64 with or without padding.
func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
