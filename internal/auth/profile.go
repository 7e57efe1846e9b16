// Package auth resolves the identity of a logging-in player, either through
// the session server in online mode or deterministically in offline mode.
package auth

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Property is a signed profile attribute such as the skin texture.
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// Profile is a resolved player identity.
type Profile struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

var validName = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// ValidName reports whether name is an acceptable player name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// OfflineUUID returns the name-based version 3 UUID offline servers assign.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	id, _ := uuid.FromBytes(sum[:])
	return id
}

// OfflineProfile returns the identity of an unauthenticated player.
func OfflineProfile(name string) Profile {
	return Profile{ID: OfflineUUID(name), Name: name}
}

// ServerHash computes the session server hash of a login: the SHA-1 of
// serverID, the shared secret and the DER public key, printed as a signed
// hexadecimal number.
func ServerHash(serverID string, secret, publicKey []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(secret)
	h.Write(publicKey)
	return signedHex(h.Sum(nil))
}

func signedHex(digest []byte) string {
	negative := digest[0]&0x80 != 0
	if negative {
		// Two's complement of the digest.
		inv := make([]byte, len(digest))
		for i, b := range digest {
			inv[i] = ^b
		}
		n := new(big.Int).SetBytes(inv)
		n.Add(n, big.NewInt(1))
		return "-" + strings.TrimLeft(hex.EncodeToString(n.Bytes()), "0")
	}
	return strings.TrimLeft(hex.EncodeToString(digest), "0")
}
