package governor

import (
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Event is a structured notification emitted on every successful action,
// for external observers. Events are append-only and never consumed
// internally.
type Event interface {
	Action() string
}

// EventSink receives emitted events.
type EventSink interface {
	Emit(event Event)
}

type TransferEvent struct {
	Signer      solana.PublicKey
	Token       solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
}

type TransferAllEvent struct {
	Signer          solana.PublicKey
	DestinationSOL  solana.PublicKey
	DestinationOLAS solana.PublicKey
	AmountSOL       uint64
	AmountOLAS      uint64
}

type TransferTokenAccountsEvent struct {
	Signer      solana.PublicKey
	SourceSOL   solana.PublicKey
	SourceOLAS  solana.PublicKey
	Destination solana.PublicKey
}

type SetUpgradeAuthorityEvent struct {
	Signer           solana.PublicKey
	Program          solana.PublicKey
	UpgradeAuthority solana.PublicKey
}

type UpgradeProgramEvent struct {
	Signer  solana.PublicKey
	Program solana.PublicKey
	Buffer  solana.PublicKey
	Spill   solana.PublicKey
}

func (TransferEvent) Action() string              { return "transfer" }
func (TransferAllEvent) Action() string           { return "transfer_all" }
func (TransferTokenAccountsEvent) Action() string { return "transfer_token_accounts" }
func (SetUpgradeAuthorityEvent) Action() string   { return "set_upgrade_authority" }
func (UpgradeProgramEvent) Action() string        { return "upgrade_program" }

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.With(zap.String("component", "EventSink"))}
}

func (s *LogSink) Emit(event Event) {
	s.logger.Info("Governance action executed",
		zap.String("action", event.Action()),
		zap.Any("event", event))
}
