package message

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Envelope carries the authenticated fields of a posted governance message:
// who sent it, from which chain, and its replay-protection key. The bridge
// layer has already verified guardian signatures by the time an envelope is
// built; the governor only authenticates the origin against its config.
type Envelope struct {
	EmitterChain   uint16
	EmitterAddress [32]byte
	Sequence       uint64
	Nonce          uint32
	// Digest is the keccak256 hash of the VAA body, the same value Wormhole
	// uses to derive the posted-VAA account. Retained for audit.
	Digest [32]byte
}

// EnvelopeFromVAA builds an envelope from a parsed VAA and its raw bytes.
func EnvelopeFromVAA(v *vaaLib.VAA, raw []byte) (Envelope, error) {
	digest, err := BodyDigest(raw)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EmitterChain:   uint16(v.EmitterChain),
		EmitterAddress: [32]byte(v.EmitterAddress),
		Sequence:       v.Sequence,
		Nonce:          v.Nonce,
		Digest:         digest,
	}, nil
}

// BodyDigest computes the keccak256 hash of a VAA's body (everything after
// the guardian signatures).
func BodyDigest(vaaBytes []byte) ([32]byte, error) {
	// VAA header: version (1) + guardian set index (4) + signature count (1),
	// then 66 bytes per signature, then the body.
	if len(vaaBytes) < 6 {
		return [32]byte{}, fmt.Errorf("VAA too short: %d bytes", len(vaaBytes))
	}

	sigCount := int(vaaBytes[5])
	bodyStart := 6 + sigCount*66
	if len(vaaBytes) <= bodyStart {
		return [32]byte{}, fmt.Errorf("VAA too short for %d signatures", sigCount)
	}

	return [32]byte(crypto.Keccak256Hash(vaaBytes[bodyStart:])), nil
}
