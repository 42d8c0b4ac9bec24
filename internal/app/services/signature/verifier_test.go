package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/shopspring/decimal"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func sign(priv ed25519.PrivateKey, msg []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}

func TestVerifyRawAndSPKIKeys(t *testing.T) {
	pub, priv := newKey(t)
	msg := CanonicalMessage("alice", "bob", decimal.RequireFromString("5.00"), "n-1", 1760000000000)
	sig := sign(priv, msg)

	if !Verify(pub, msg, sig) {
		t.Fatalf("raw key should verify")
	}

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal spki: %v", err)
	}
	if len(spki) != SPKILength {
		t.Fatalf("unexpected spki length %d", len(spki))
	}
	if !Verify(spki, msg, sig) {
		t.Fatalf("spki key should verify")
	}

	unpadded := base64.RawStdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	if !Verify(pub, msg, unpadded) {
		t.Fatalf("unpadded signature should verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	pub, priv := newKey(t)
	msg := CanonicalMessage("alice", "bob", decimal.RequireFromString("9.11"), "n-2", 1760000000000)
	raw := ed25519.Sign(priv, msg)

	for i := range msg {
		altered := append([]byte(nil), msg...)
		altered[i] ^= 0x01
		if Verify(pub, altered, base64.StdEncoding.EncodeToString(raw)) {
			t.Fatalf("altered message byte %d verified", i)
		}
	}
	for i := range raw {
		altered := append([]byte(nil), raw...)
		altered[i] ^= 0x01
		if Verify(pub, msg, base64.StdEncoding.EncodeToString(altered)) {
			t.Fatalf("altered signature byte %d verified", i)
		}
	}

	otherPub, _ := newKey(t)
	if Verify(otherPub, msg, base64.StdEncoding.EncodeToString(raw)) {
		t.Fatalf("signature verified against a different device key")
	}
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	pub, priv := newKey(t)
	msg := []byte("m")
	good := sign(priv, msg)

	cases := []struct {
		name string
		key  []byte
		sig  string
	}{
		{"nil key", nil, good},
		{"short key", pub[:31], good},
		{"long key", append(append([]byte(nil), pub...), 0), good},
		{"bad spki", make([]byte, SPKILength), good},
		{"not base64", pub, "!!!"},
		{"empty sig", pub, ""},
		{"short sig", pub, base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if Verify(tc.key, msg, tc.sig) {
				t.Fatalf("expected failure")
			}
		})
	}
}

func TestCanonicalMessageNormalizesAmount(t *testing.T) {
	cases := map[string]string{
		"5.00":  "5",
		"5.50":  "5.5",
		"500":   "500",
		"0.10":  "0.1",
		"12.34": "12.34",
	}
	for in, want := range cases {
		got := string(CanonicalMessage("s", "r", decimal.RequireFromString(in), "n", 1))
		if got != "s|r|"+want+"|n|1" {
			t.Fatalf("%s: got %s", in, got)
		}
	}
}
