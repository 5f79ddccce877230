package governor

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/valory-xyz/lockbox-governor-solana/internal/message"
)

// TokenAccount is a point-in-time snapshot of a live token account supplied
// with a request. The governor never trusts message-embedded addresses to
// reach accounts; it acts only on these snapshots, after proving they match
// what the message names.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// ProgramAccount is a snapshot of a governed upgradeable program.
type ProgramAccount struct {
	Address          solana.PublicKey
	Executable       bool
	UpgradeAuthority solana.PublicKey
}

// TokenLedger executes the token effects of a verified message. The envelope
// identifies the posted message the effect settles against; the executor is
// the one that ultimately signs as the treasury, the governor never holds a
// key for it.
type TokenLedger interface {
	Transfer(ctx context.Context, env message.Envelope, source, destination solana.PublicKey, amount uint64) error
	TransferAll(ctx context.Context, env message.Envelope, sourceSOL, sourceOLAS, destinationSOL, destinationOLAS solana.PublicKey) error
	TransferTokenAccounts(ctx context.Context, env message.Envelope, sourceSOL, sourceOLAS, newOwner solana.PublicKey) error
}

// ProgramLifecycle executes the program-lifecycle effects of a verified
// message: authority handover and redeployment of governed programs.
type ProgramLifecycle interface {
	SetUpgradeAuthority(ctx context.Context, env message.Envelope, program, newAuthority solana.PublicKey) error
	Upgrade(ctx context.Context, env message.Envelope, program, buffer, spill solana.PublicKey) error
}

// Per-action live account sets.

type TransferAccounts struct {
	Source      TokenAccount
	Destination TokenAccount
}

type TransferAllAccounts struct {
	SourceSOL       TokenAccount
	SourceOLAS      TokenAccount
	DestinationSOL  TokenAccount
	DestinationOLAS TokenAccount
}

type TransferTokenAccountsAccounts struct {
	SourceSOL  TokenAccount
	SourceOLAS TokenAccount
	// Destination is the new owner of both accounts.
	Destination solana.PublicKey
}

type SetUpgradeAuthorityAccounts struct {
	Program      ProgramAccount
	NewAuthority solana.PublicKey
}

type UpgradeProgramAccounts struct {
	Program ProgramAccount
	Buffer  solana.PublicKey
	Spill   solana.PublicKey
}
