package registry

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ParseMetadataRef validates a metadata reference and returns its canonical
// string form. References are content identifiers, v0 or v1.
func ParseMetadataRef(ref string) (string, error) {
	c, err := cid.Decode(ref)
	if err != nil {
		return "", fmt.Errorf("invalid metadata ref %q: %w", ref, err)
	}
	return c.String(), nil
}

// MetadataRefFor computes the CIDv1 (raw codec, sha2-256) of a metadata
// document.
func MetadataRefFor(document []byte) (string, error) {
	mh, err := multihash.Sum(document, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}
