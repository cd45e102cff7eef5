package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length carried in each sealed frame.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length appended to the ciphertext.
	TagSize = 16

	// maxFrameSize bounds a single frame so a bad length prefix cannot
	// force an absurd allocation.
	maxFrameSize = 32 << 20
)

var (
	// ErrConnectionClosed is returned when the peer closes mid-message.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrAuthTag is returned when AEAD verification of a frame fails.
	// The frame is discarded whole; callers must tear the connection down.
	ErrAuthTag = errors.New("authentication tag invalid")
	// ErrFrameTooLarge is returned when a length prefix exceeds the frame cap.
	ErrFrameTooLarge = errors.New("frame too large")
)

// WriteFrame writes payload with a 4-byte big-endian length prefix.
// Pre-handshake use only; everything after key exchange goes through SealedCodec.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. It never returns a partial
// message: it blocks until the declared length is fully read, or fails with
// ErrConnectionClosed if the peer goes away first.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, closedOr(err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, closedOr(err)
	}
	return payload, nil
}

// SealedCodec frames and AEAD-protects messages under one session key.
// Wire format: length:uint32(BE) | nonce(12B) | ciphertext | tag(16B).
type SealedCodec struct {
	aead cipher.AEAD
}

// NewSealedCodec builds a codec sealing with AES-GCM under key.
func NewSealedCodec(key []byte) (*SealedCodec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &SealedCodec{aead: aead}, nil
}

// WriteFrame seals payload with a fresh random nonce and writes one frame.
func (c *SealedCodec) WriteFrame(w io.Writer, payload []byte) error {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, payload, nil)
	return WriteFrame(w, sealed)
}

// ReadFrame reads one sealed frame and returns the verified plaintext.
// On ErrAuthTag no plaintext is surfaced and the connection must be closed.
func (c *SealedCodec) ReadFrame(r io.Reader) ([]byte, error) {
	sealed, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrAuthTag
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthTag
	}
	return plaintext, nil
}

func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("read frame: %w", err)
}
