package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
)

// SessionKeySize is the AES-256 session key length established per connection.
const SessionKeySize = 32

// ErrHandshake is returned when the key exchange cannot complete; the
// connection must be terminated before authentication proceeds.
var ErrHandshake = errors.New("key exchange failed")

// KeyExchange holds the server's long-lived RSA keypair and performs the
// per-connection handshake that establishes a symmetric session key.
type KeyExchange struct {
	private *rsa.PrivateKey
}

// NewKeyExchange generates a fresh RSA-2048 keypair for the process lifetime.
func NewKeyExchange() (*KeyExchange, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa keypair: %w", err)
	}
	return &KeyExchange{private: key}, nil
}

// PublicKeyBytes returns the server public key in PKIX DER form,
// as sent to clients during the handshake.
func (kx *KeyExchange) PublicKeyBytes() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&kx.private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// ServerHandshake sends the public key and receives the client's
// RSA-OAEP-encrypted session key over rw. Both legs are plain
// length-prefixed frames; the session key itself never crosses in the clear.
func (kx *KeyExchange) ServerHandshake(rw io.ReadWriter) ([]byte, error) {
	der, err := kx.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(rw, der); err != nil {
		return nil, fmt.Errorf("send public key: %w", err)
	}

	encrypted, err := ReadFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("receive session key: %w", err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kx.private, encrypted, nil)
	if err != nil {
		return nil, ErrHandshake
	}
	if len(key) != SessionKeySize {
		return nil, ErrHandshake
	}
	return key, nil
}

// ClientHandshake is the peer side of ServerHandshake: it reads the server's
// public key, generates a fresh session key, and sends it RSA-OAEP-encrypted.
// Exercised by the test client and kept for client implementations.
func ClientHandshake(rw io.ReadWriter) ([]byte, error) {
	der, err := ReadFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("receive public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrHandshake
	}

	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt session key: %w", err)
	}
	if err := WriteFrame(rw, encrypted); err != nil {
		return nil, fmt.Errorf("send session key: %w", err)
	}
	return key, nil
}
