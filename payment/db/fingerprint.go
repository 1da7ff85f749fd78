package db

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint derives the record id from the recipient, body, payment
// address and amount. Each field is length prefixed so that shifting bytes
// between adjacent fields changes the digest.
func Fingerprint(phone, body, address, amount string) string {
	h := sha256.New()
	for _, field := range []string{phone, body, address, amount} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
