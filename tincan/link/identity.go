/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package link

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/ipop-project/tincan/tincan/defn"
	"golang.org/x/crypto/blake2b"
)

// Identity is the long-lived key pair of an overlay. Peers learn its
// fingerprint out of band and verify it during the link handshake.
type Identity struct {
	Key noise.DHKey
	fpr string
}

// NewIdentity generates a fresh Curve25519 identity.
func NewIdentity() (*Identity, error) {
	return newIdentity(rand.Reader)
}

func newIdentity(rng io.Reader) (*Identity, error) {
	key, err := noise.DH25519.GenerateKeypair(rng)
	if err != nil {
		return nil, fmt.Errorf("%w: generate identity: %v", defn.ErrSetup, err)
	}
	return &Identity{Key: key, fpr: Fingerprint(key.Public)}, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of a public key.
func Fingerprint(pub []byte) string {
	sum := blake2b.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the fingerprint of the public key.
func (id *Identity) Fingerprint() string {
	return id.fpr
}

// Valid reports whether the key material is usable.
func (id *Identity) Valid() bool {
	return id != nil &&
		len(id.Key.Private) == noise.DH25519.DHLen() &&
		len(id.Key.Public) == noise.DH25519.DHLen()
}
