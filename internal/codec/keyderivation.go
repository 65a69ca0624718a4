package codec

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveAESKey expands arbitrary-length secret key material into a 32-byte
// AES-256 key via HKDF-SHA256, so operators can configure a passphrase or
// a long-lived shared secret of any size instead of having to generate and
// store exactly 32 raw key bytes. info binds the derived key to its
// purpose (and, when callers include the dataset name, to a single
// dataset) the way the teacher's keymanager.go separates master secrets
// from the keys actually handed to a cipher.
func DeriveAESKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("codec: key derivation: secret must not be empty")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("codec: key derivation: %w", err)
	}
	return key, nil
}
