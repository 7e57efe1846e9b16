package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

var (
	// ErrPayloadTooLarge is returned for inputs whose length does not fit an int32.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// MinKeyBits is the smallest RSA modulus accepted.
const MinKeyBits = 1024

// KeyPair is the process-wide RSA key used during login. It is immutable
// after creation and safe for concurrent use.
type KeyPair struct {
	private *rsa.PrivateKey
	der     []byte
}

// GenerateKeyPair creates a new RSA key pair. A bits value of zero returns a
// nil KeyPair, which disables encryption for offline listeners.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		return nil, nil
	}
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, MinKeyBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return newKeyPair(key)
}

func newKeyPair(key *rsa.PrivateKey) (*KeyPair, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return &KeyPair{private: key, der: der}, nil
}

// LoadOrGenerateKeyPair reads a PEM encoded PKCS#1 private key from path, or
// generates one and writes it there when the file does not exist.
func LoadOrGenerateKeyPair(path string, bits int) (*KeyPair, error) {
	if bits == 0 {
		return nil, nil
	}
	if path == "" {
		return GenerateKeyPair(bits)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "RSA PRIVATE KEY" {
			return nil, fmt.Errorf("no RSA private key in %s", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
		}
		log.Info().Str("path", path).Int("bits", key.N.BitLen()).Msg("loaded login key pair")
		return newKeyPair(key)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	kp, err := GenerateKeyPair(bits)
	if err != nil {
		return nil, err
	}

	keyOut, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer keyOut.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(kp.private)}
	if err := pem.Encode(keyOut, block); err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	log.Info().Str("path", path).Int("bits", bits).Msg("login key pair generated")
	return kp, nil
}

// PublicKeyDER returns the public key as X.509 SubjectPublicKeyInfo DER.
func (k *KeyPair) PublicKeyDER() []byte {
	out := make([]byte, len(k.der))
	copy(out, k.der)
	return out
}

// Bits returns the modulus size.
func (k *KeyPair) Bits() int {
	return k.private.N.BitLen()
}

// Decrypt decrypts a PKCS#1 v1.5 ciphertext with the private key.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > math.MaxInt32 {
		return nil, ErrPayloadTooLarge
	}
	out, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return out, nil
}

// Encrypt encrypts plaintext with the public key using PKCS#1 v1.5.
func (k *KeyPair) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > math.MaxInt32 {
		return nil, ErrPayloadTooLarge
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, &k.private.PublicKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return out, nil
}

// EncryptWithPublicKey encrypts plaintext for the holder of a DER encoded
// public key, the way a client answers an encryption request.
func EncryptWithPublicKey(der, plaintext []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return out, nil
}
