package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/ziteh/zfs-remote-backup/internal/hashing"
)

// MLKEMAdapter encrypts with a hybrid scheme: ML-KEM-768 (the NIST-
// standardized Kyber successor) encapsulates a fresh shared secret per
// chunk, which is then used to derive an AES-256-GCM key for the bulk
// data -- the same two-step construction as the teacher's
// PostQuantumEncryptor (internal/crypto/postquantum.go), adapted from an
// in-memory Encrypt/Decrypt pair to the file-to-file EncryptionAdapter
// shape the rest of this package's codecs use.
//
// The on-disk layout is a fixed-size KEM ciphertext, a 12-byte GCM nonce,
// then the AES-GCM sealed chunk: no length prefix is needed because
// mlkem768.CiphertextSize is constant for a given parameter set.
type MLKEMAdapter struct {
	publicKey  *mlkem768.PublicKey
	privateKey *mlkem768.PrivateKey // nil on an encrypt-only adapter
}

// NewMLKEMAdapter returns an MLKEMAdapter for the given ML-KEM-768 public
// key, used to encrypt. privateKey may be nil for an encrypt-only
// instance; Verify requires a non-nil private key since decapsulation is
// the only way to recover the shared secret the chunk was sealed under.
func NewMLKEMAdapter(publicKeyBytes, privateKeyBytes []byte) (*MLKEMAdapter, error) {
	if len(publicKeyBytes) != mlkem768.PublicKeySize {
		return nil, fmt.Errorf("codec: mlkem768: public key must be %d bytes, got %d", mlkem768.PublicKeySize, len(publicKeyBytes))
	}
	var pub mlkem768.PublicKey
	if err := pub.Unpack(publicKeyBytes); err != nil {
		return nil, fmt.Errorf("codec: mlkem768: unpack public key: %w", err)
	}

	a := &MLKEMAdapter{publicKey: &pub}
	if len(privateKeyBytes) == 0 {
		return a, nil
	}
	if len(privateKeyBytes) != mlkem768.PrivateKeySize {
		return nil, fmt.Errorf("codec: mlkem768: private key must be %d bytes, got %d", mlkem768.PrivateKeySize, len(privateKeyBytes))
	}
	var priv mlkem768.PrivateKey
	if err := priv.Unpack(privateKeyBytes); err != nil {
		return nil, fmt.Errorf("codec: mlkem768: unpack private key: %w", err)
	}
	a.privateKey = &priv
	return a, nil
}

// GenerateMLKEMKeyPair returns a fresh ML-KEM-768 public/private key pair,
// encoded the way NewMLKEMAdapter expects to receive them.
func GenerateMLKEMKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: mlkem768: generate key pair: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("codec: mlkem768: marshal public key: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("codec: mlkem768: marshal private key: %w", err)
	}
	return pubBytes, privBytes, nil
}

func (a *MLKEMAdapter) Extension() string { return ".mlkem768" }

func (a *MLKEMAdapter) Encrypt(inPath string) (string, error) {
	plaintext, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("codec: mlkem768: read %s: %w", inPath, err)
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return "", fmt.Errorf("codec: mlkem768: generate encapsulation seed: %w", err)
	}
	kemCiphertext := make([]byte, mlkem768.CiphertextSize)
	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	a.publicKey.EncapsulateTo(kemCiphertext, sharedSecret, seed)

	aesKey := sha256.Sum256(sharedSecret)
	gcm, err := newGCM(aesKey[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("codec: mlkem768: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(kemCiphertext)+len(nonce)+len(sealed))
	out = append(out, kemCiphertext...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	outPath := inPath + a.Extension()
	if err := os.WriteFile(outPath, out, 0o600); err != nil {
		return "", fmt.Errorf("codec: mlkem768: write %s: %w", outPath, err)
	}
	f, err := os.OpenFile(outPath, os.O_RDWR, 0o600)
	if err != nil {
		return "", fmt.Errorf("codec: mlkem768: reopen %s: %w", outPath, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("codec: mlkem768: sync %s: %w", outPath, err)
	}
	_ = f.Close()

	return outPath, nil
}

func (a *MLKEMAdapter) Verify(path string, expectedHash []byte, h *hashing.Hasher) error {
	if a.privateKey == nil {
		return fmt.Errorf("codec: mlkem768: verify requires a private key")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("codec: mlkem768: read %s: %w", path, err)
	}
	const nonceSize = 12
	if len(data) < mlkem768.CiphertextSize+nonceSize {
		return fmt.Errorf("codec: mlkem768: %s too short to contain a KEM ciphertext and nonce", path)
	}
	kemCiphertext := data[:mlkem768.CiphertextSize]
	nonce := data[mlkem768.CiphertextSize : mlkem768.CiphertextSize+nonceSize]
	sealed := data[mlkem768.CiphertextSize+nonceSize:]

	sharedSecret := make([]byte, mlkem768.SharedKeySize)
	a.privateKey.DecapsulateTo(sharedSecret, kemCiphertext)
	aesKey := sha256.Sum256(sharedSecret)

	gcm, err := newGCM(aesKey[:])
	if err != nil {
		return err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("codec: mlkem768: decrypt %s: %w", path, err)
	}

	if len(expectedHash) == 0 {
		return nil // GCM's tag already authenticated the plaintext
	}
	h.Reset()
	h.Update(plaintext)
	if got := h.Finalize(); !hashesEqual(got, expectedHash) {
		return fmt.Errorf("codec: mlkem768: hash mismatch for %s", path)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: mlkem768: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
