package cipher

import (
	"crypto/subtle"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// contentDomainKey is the BLAKE3 keyed-hash domain for message content.
// Domain separation keeps content hashes from colliding with any other
// hash the system might compute over the same bytes. The key is the ASCII
// domain name zero-padded to 32 bytes, readable in hex dumps; BLAKE3 keyed
// mode treats it as an opaque value.
var contentDomainKey = [32]byte{
	'v', 'i', 'g', 'i', 'l', '.', 'm', 'e', 's', 's', 'a', 'g', 'e', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ContentHash returns the hex-encoded keyed BLAKE3 digest of plaintext.
// Stored on the message at creation time and verified before any release.
func ContentHash(plaintext []byte) string {
	h, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("cipher: bad content domain key: " + err.Error())
	}
	h.Write(plaintext)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyContent reports whether plaintext matches the stored hash.
func VerifyContent(plaintext []byte, storedHash string) bool {
	computed := ContentHash(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
