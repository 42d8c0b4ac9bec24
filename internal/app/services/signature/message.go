package signature

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeAmount renders amount with trailing fractional zeros stripped and
// no exponent, so 5.00 and 5 sign identically.
func NormalizeAmount(amount decimal.Decimal) string {
	return amount.String()
}

// CanonicalMessage builds the byte string a device signs for a tip:
// senderId|receiverId|normalizedAmount|nonce|timestamp.
func CanonicalMessage(senderID, receiverID string, amount decimal.Decimal, nonce string, timestampMillis int64) []byte {
	return []byte(strings.Join([]string{
		senderID,
		receiverID,
		NormalizeAmount(amount),
		nonce,
		strconv.FormatInt(timestampMillis, 10),
	}, "|"))
}
