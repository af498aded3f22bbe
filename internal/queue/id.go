package queue

import (
	"crypto/rand"
	"encoding/hex"
)

// NewMessageID generates a random UUIDv4-style message identifier.
// A failing system randomness source is unrecoverable; returning a
// constant ID would let the store's conflict handling drop messages.
func NewMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("queue: rand read: " + err.Error())
	}
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:])
}
