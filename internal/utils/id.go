package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const roomCodeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomCode returns a short random identifier suitable for sharing with other players.
func RoomCode(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// Fallback to timestamp if crypto/rand is unavailable.
			return strconv.FormatInt(time.Now().UnixNano(), 36)[:length]
		}
		buf[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(buf)
}
