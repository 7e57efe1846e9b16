// Package encryption implements the stream cipher and RSA key exchange used
// to secure a connection after login.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrCipherActive is returned by Initialize on an already initialized cipher.
	ErrCipherActive = errors.New("cipher already initialized")
)

// cfb8 is AES in 8-bit cipher feedback mode. The standard library only ships
// full-block CFB.
type cfb8 struct {
	block   cipher.Block
	backing []byte
	shift   []byte
	tmp     []byte
	decrypt bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) *cfb8 {
	// The register slides forward one byte per step inside a larger backing
	// array and is copied back to the start once it reaches the end.
	backing := make([]byte, 16*16)
	copy(backing, iv)
	return &cfb8{
		block:   block,
		backing: backing,
		shift:   backing[:16],
		tmp:     make([]byte, 16),
		decrypt: decrypt,
	}
}

func (c *cfb8) XORKeyStream(dst, src []byte) {
	for i := range src {
		c.block.Encrypt(c.tmp, c.shift)
		in := src[i]
		out := in ^ c.tmp[0]

		if cap(c.shift) > 16 {
			c.shift = c.shift[1:17]
		} else {
			copy(c.backing, c.shift[1:])
			c.shift = c.backing[:16]
		}
		if c.decrypt {
			c.shift[15] = in
		} else {
			c.shift[15] = out
		}
		dst[i] = out
	}
}

// Cipher is the per-session AES-128/CFB8 pair. Until Initialize succeeds,
// Encrypt and Decrypt leave data untouched. It is not safe for concurrent use.
type Cipher struct {
	enc cipher.Stream
	dec cipher.Stream
}

// NewCipher creates an uninitialized Cipher.
func NewCipher() *Cipher {
	return &Cipher{}
}

// Initialize activates the cipher. Both key and iv must be 16 bytes. A second
// call fails with ErrCipherActive and leaves the streams unchanged.
func (c *Cipher) Initialize(key, iv []byte) error {
	if c.enc != nil {
		return ErrCipherActive
	}
	if len(key) != 16 {
		return fmt.Errorf("invalid key length %d, expected 16", len(key))
	}
	if len(iv) != 16 {
		return fmt.Errorf("invalid iv length %d, expected 16", len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}

	c.enc = newCFB8(block, iv, false)
	c.dec = newCFB8(block, iv, true)
	return nil
}

// Active reports whether Initialize has succeeded.
func (c *Cipher) Active() bool {
	return c.enc != nil
}

// Encrypt encrypts buf in place.
func (c *Cipher) Encrypt(buf []byte) {
	if c.enc == nil {
		return
	}
	c.enc.XORKeyStream(buf, buf)
}

// Decrypt decrypts buf in place.
func (c *Cipher) Decrypt(buf []byte) {
	if c.dec == nil {
		return
	}
	c.dec.XORKeyStream(buf, buf)
}
