// Package fingerprint derives the content identity used as the provenance key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// ErrEmptyContent is returned when there is nothing to fingerprint.
var ErrEmptyContent = errors.New("fingerprint: empty content")

// Fingerprint is the SHA-256 digest of an uploaded file.
type Fingerprint [Size]byte

// Compute hashes content. It only fails on empty input.
func Compute(content []byte) (Fingerprint, error) {
	if len(content) == 0 {
		return Fingerprint{}, ErrEmptyContent
	}
	return Fingerprint(sha256.Sum256(content)), nil
}

// Parse decodes a 64 character hex digest, with or without a 0x prefix.
func Parse(s string) (Fingerprint, error) {
	var fp Fingerprint
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(Size) {
		return fp, fmt.Errorf("fingerprint: expected %d hex chars, got %d", hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, fmt.Errorf("fingerprint: %w", err)
	}
	return fp, nil
}

// Hex returns the lowercase hex form returned to API callers.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return f.Hex()
}

// Bytes32 is the ledger key form (solidity bytes32).
func (f Fingerprint) Bytes32() [32]byte {
	return [32]byte(f)
}

// IsZero reports whether f was never computed.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// CID wraps the digest as a CIDv1 with the raw codec, so the same content
// can be located in content-addressed stores.
func (f Fingerprint) CID() (string, error) {
	mh, err := multihash.Encode(f[:], multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("fingerprint: encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}
