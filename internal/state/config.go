// Package state holds the governor's persistent records: the singleton
// Config identifying the trusted foreign emitter and the running transfer
// totals, and the append-only Received ledger that makes message processing
// idempotent.
package state

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// ChainIDSolana is the Wormhole chain ID of the local chain. A foreign
// emitter can never be registered with it.
const ChainIDSolana uint16 = 1

// SeedConfig is the PDA seed of the config account, which doubles as the
// treasury's signing identity on chain.
var SeedConfig = []byte("config")

// Governed token mints (mainnet).
var (
	DefaultMintSOL  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	DefaultMintOLAS = solana.MustPublicKeyFromBase58("Ez3nzG9ofodYCvEmw73XhQ87LWNYVRM2s7diB5tBZPyM")
)

var (
	// ErrInvalidForeignEmitter rejects a zero or local-chain emitter at
	// initialization time, and an origin-address mismatch at dispatch time.
	ErrInvalidForeignEmitter = errors.New("invalid foreign emitter")
	// ErrOverflow rejects any u64 addition that would wrap.
	ErrOverflow = errors.New("overflow")
	// ErrAlreadyProcessed marks a message whose (chain, sequence) key is
	// already in the received ledger. Terminal for that message.
	ErrAlreadyProcessed = errors.New("message already processed")
	// ErrNotInitialized is returned when no config record exists yet.
	ErrNotInitialized = errors.New("governor not initialized")
)

// TreasuryAuthority is the derived, keyless identity that owns the treasury
// token accounts and holds upgrade authority over governed programs. It is a
// program address: there is no private key, only seed material.
type TreasuryAuthority struct {
	Address solana.PublicKey
	Bump    uint8
}

// DeriveTreasuryAuthority derives the config PDA for the governor program.
func DeriveTreasuryAuthority(programID solana.PublicKey) (TreasuryAuthority, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{SeedConfig}, programID)
	if err != nil {
		return TreasuryAuthority{}, fmt.Errorf("derive treasury authority: %w", err)
	}
	return TreasuryAuthority{Address: addr, Bump: bump}, nil
}

// Seeds returns the seed material completing the derivation. This is all the
// ledger needs to act as the treasury; no secret exists.
func (a TreasuryAuthority) Seeds() [][]byte {
	return [][]byte{SeedConfig, {a.Bump}}
}

// Config is the singleton governance record. Created once by Initialize,
// mutated by every successful transfer, never deleted.
type Config struct {
	// Chain is the Wormhole chain ID of the trusted foreign emitter.
	Chain uint16
	// ForeignEmitter is the only address whose messages are accepted.
	ForeignEmitter [32]byte
	// Bump completes the treasury authority derivation.
	Bump uint8
	// Governed token mints.
	MintSOL  solana.PublicKey
	MintOLAS solana.PublicKey
	// Running totals, monotonically non-decreasing.
	TotalSOLTransferred  uint64
	TotalOLASTransferred uint64
}

// NewConfig validates and builds the singleton config record. The foreign
// emitter cannot share the local chain ID and cannot be the zero address.
func NewConfig(chain uint16, emitter [32]byte, authority TreasuryAuthority, mintSOL, mintOLAS solana.PublicKey) (*Config, error) {
	if chain == 0 || chain == ChainIDSolana {
		return nil, fmt.Errorf("%w: chain %d", ErrInvalidForeignEmitter, chain)
	}
	if emitter == ([32]byte{}) {
		return nil, fmt.Errorf("%w: zero emitter address", ErrInvalidForeignEmitter)
	}
	return &Config{
		Chain:          chain,
		ForeignEmitter: emitter,
		Bump:           authority.Bump,
		MintSOL:        mintSOL,
		MintOLAS:       mintOLAS,
	}, nil
}

// VerifyEmitter reports whether an address equals the registered foreign
// emitter. Chain ID matching is a separate gate check.
func (c *Config) VerifyEmitter(addr [32]byte) bool {
	return addr == c.ForeignEmitter
}

// CheckTransferred reports whether adding amount to the given mint's total
// would overflow, without mutating anything. Handlers run this before any
// side effect so an overflow rejects the message cleanly.
func (c *Config) CheckTransferred(mint solana.PublicKey, amount uint64) error {
	total, err := c.totalFor(mint)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-*total {
		return fmt.Errorf("%w: total %d + %d", ErrOverflow, *total, amount)
	}
	return nil
}

func (c *Config) totalFor(mint solana.PublicKey) (*uint64, error) {
	switch mint {
	case c.MintSOL:
		return &c.TotalSOLTransferred, nil
	case c.MintOLAS:
		return &c.TotalOLASTransferred, nil
	default:
		return nil, fmt.Errorf("mint %s is not governed", mint)
	}
}

// AddTransferred adds to the running total of the given mint. The addition
// is checked: on overflow nothing changes and ErrOverflow is returned.
func (c *Config) AddTransferred(mint solana.PublicKey, amount uint64) error {
	total, err := c.totalFor(mint)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-*total {
		return fmt.Errorf("%w: total %d + %d", ErrOverflow, *total, amount)
	}
	*total += amount
	return nil
}
