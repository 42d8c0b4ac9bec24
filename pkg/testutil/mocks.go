// Package testutil provides common testing utilities shared across packages.
package testutil

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/services/signature"
)

// DeviceKey is an Ed25519 key pair standing in for a client device.
type DeviceKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewDeviceKey generates a device key pair or panics.
func NewDeviceKey() DeviceKey {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("generate ed25519 key: %v", err))
	}
	return DeviceKey{Public: pub, Private: priv}
}

// PublicKeyBase64 returns the raw public key in standard base64.
func (k DeviceKey) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

// SignTip signs the canonical tip message and returns the base64 signature.
func (k DeviceKey) SignTip(senderID, receiverID string, amount decimal.Decimal, nonce string, timestampMillis int64) string {
	msg := signature.CanonicalMessage(senderID, receiverID, amount, nonce, timestampMillis)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.Private, msg))
}

// StripeSignatureHeader builds a Stripe-Signature header for payload signed
// with secret at ts.
func StripeSignatureHeader(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + unix + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// StripeEvent renders a minimal Stripe event envelope around object JSON.
func StripeEvent(id, eventType, objectJSON string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"livemode":false,"data":{"object":%s}}`,
		id, eventType, time.Now().Unix(), objectJSON))
}
