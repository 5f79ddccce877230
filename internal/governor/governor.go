// Package governor implements the message-verification-and-dispatch core of
// the lockbox governor: the shared verification gate that authenticates a
// posted governance message, the replay claim that makes processing
// idempotent, and the five privileged treasury actions.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal/message"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

// Governor executes verified governance messages against the treasury.
type Governor struct {
	// mu serializes the handlers: every action reads and updates the shared
	// config totals, and the relayer dispatches messages concurrently.
	mu        sync.Mutex
	cfg       *state.Config
	store     *state.Store
	tokens    TokenLedger
	programs  ProgramLifecycle
	authority state.TreasuryAuthority
	signer    solana.PublicKey
	events    EventSink
	logger    *zap.Logger
}

// New builds a governor around a loaded config. The signer is the caller
// identity recorded in emitted events; the authority is the treasury's
// derived identity that governed accounts and programs must answer to.
func New(
	logger *zap.Logger,
	cfg *state.Config,
	store *state.Store,
	tokens TokenLedger,
	programs ProgramLifecycle,
	authority state.TreasuryAuthority,
	signer solana.PublicKey,
	events EventSink,
) *Governor {
	return &Governor{
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		programs:  programs,
		authority: authority,
		signer:    signer,
		events:    events,
		logger:    logger.With(zap.String("component", "Governor")),
	}
}

// Config returns the governor's configuration record.
func (g *Governor) Config() *state.Config { return g.cfg }

// Initialize validates and persists the singleton config record. It fails
// if a config already exists: the trusted emitter is set exactly once.
func Initialize(store *state.Store, chain uint16, emitter [32]byte, authority state.TreasuryAuthority, mintSOL, mintOLAS solana.PublicKey) (*state.Config, error) {
	if _, err := store.LoadConfig(); err == nil {
		return nil, fmt.Errorf("governor already initialized")
	} else if !errors.Is(err, state.ErrNotInitialized) {
		return nil, err
	}

	cfg, err := state.NewConfig(chain, emitter, authority, mintSOL, mintOLAS)
	if err != nil {
		return nil, err
	}
	if err := store.SaveConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// accountMatch pairs a message-embedded identifier with the address of the
// live account actually supplied for it.
type accountMatch struct {
	field string
	want  solana.PublicKey
	got   solana.PublicKey
}

// verify runs the shared precondition gate: origin authentication, chain
// check, account-substitution checks for every account-bearing field, then
// the action's extra preconditions. It performs no mutation; a failure here
// leaves the message retryable.
func (g *Governor) verify(env message.Envelope, matches []accountMatch, extra func() error) error {
	if !g.cfg.VerifyEmitter(env.EmitterAddress) {
		return fmt.Errorf("%w: message from %x", state.ErrInvalidForeignEmitter, env.EmitterAddress)
	}
	if env.EmitterChain != g.cfg.Chain {
		return fmt.Errorf("%w: chain %d, want %d", ErrInvalidForeignChain, env.EmitterChain, g.cfg.Chain)
	}
	for _, m := range matches {
		if m.want != m.got {
			return fmt.Errorf("%w: %s: message names %s, supplied %s", ErrWrongAccount, m.field, m.want, m.got)
		}
	}
	if extra != nil {
		return extra()
	}
	return nil
}

// claim writes the replay record for this message. It runs after every
// precondition and before the external effect: if the effect fails, the
// message stays consumed and cannot re-enter through the normal path.
func (g *Governor) claim(env message.Envelope) error {
	return g.store.RecordIfAbsent(state.Received{
		Chain:       env.EmitterChain,
		Sequence:    env.Sequence,
		Nonce:       env.Nonce,
		MessageHash: env.Digest,
	})
}

func (g *Governor) commitTotals() error {
	if err := g.store.SaveConfig(g.cfg); err != nil {
		return fmt.Errorf("persist totals after effect: %w", err)
	}
	return nil
}

func (g *Governor) checkTreasuryOwned(field string, acc TokenAccount) error {
	if acc.Owner != g.authority.Address {
		return fmt.Errorf("%w: %s owned by %s, want treasury %s",
			ErrWrongAccountOwner, field, acc.Owner, g.authority.Address)
	}
	return nil
}

func (g *Governor) checkUpgradeAuthority(prog ProgramAccount) error {
	if !prog.Executable {
		return fmt.Errorf("%w: %s is not executable", ErrWrongAccount, prog.Address)
	}
	if prog.UpgradeAuthority != g.authority.Address {
		return fmt.Errorf("%w: %s held by %s, want treasury %s",
			ErrWrongUpgradeAuthority, prog.Address, prog.UpgradeAuthority, g.authority.Address)
	}
	return nil
}

// Transfer moves a message-specified amount from a treasury-owned token
// account.
func (g *Governor) Transfer(ctx context.Context, env message.Envelope, msg message.Transfer, accs TransferAccounts) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.verify(env, []accountMatch{
		{"source", msg.Source, accs.Source.Address},
		{"destination", msg.Destination, accs.Destination.Address},
	}, func() error {
		if err := g.checkTreasuryOwned("source", accs.Source); err != nil {
			return err
		}
		if accs.Source.Mint != accs.Destination.Mint {
			return fmt.Errorf("%w: source mint %s, destination mint %s",
				ErrWrongTokenMint, accs.Source.Mint, accs.Destination.Mint)
		}
		if accs.Source.Mint != g.cfg.MintSOL && accs.Source.Mint != g.cfg.MintOLAS {
			return fmt.Errorf("%w: %s is not governed", ErrWrongTokenMint, accs.Source.Mint)
		}
		if msg.Amount > accs.Source.Amount {
			return fmt.Errorf("%w: amount %d exceeds balance %d",
				state.ErrOverflow, msg.Amount, accs.Source.Amount)
		}
		return g.cfg.CheckTransferred(accs.Source.Mint, msg.Amount)
	})
	if err != nil {
		return err
	}

	if err := g.claim(env); err != nil {
		return err
	}
	if err := g.tokens.Transfer(ctx, env, accs.Source.Address, accs.Destination.Address, msg.Amount); err != nil {
		return fmt.Errorf("transfer effect after replay claim: %w", err)
	}
	if err := g.cfg.AddTransferred(accs.Source.Mint, msg.Amount); err != nil {
		return err
	}
	if err := g.commitTotals(); err != nil {
		return err
	}

	g.events.Emit(TransferEvent{
		Signer:      g.signer,
		Token:       accs.Source.Mint,
		Destination: accs.Destination.Address,
		Amount:      msg.Amount,
	})
	return nil
}

// TransferAll sweeps the full live balances of the treasury's SOL and OLAS
// accounts. The amounts are read at call time, never from the message: the
// sweep moves whatever is currently held.
func (g *Governor) TransferAll(ctx context.Context, env message.Envelope, msg message.TransferAll, accs TransferAllAccounts) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.verify(env, []accountMatch{
		{"source SOL", msg.SourceSOL, accs.SourceSOL.Address},
		{"source OLAS", msg.SourceOLAS, accs.SourceOLAS.Address},
		{"destination SOL", msg.DestinationSOL, accs.DestinationSOL.Address},
		{"destination OLAS", msg.DestinationOLAS, accs.DestinationOLAS.Address},
	}, func() error {
		if err := g.checkTreasuryOwned("source SOL", accs.SourceSOL); err != nil {
			return err
		}
		if err := g.checkTreasuryOwned("source OLAS", accs.SourceOLAS); err != nil {
			return err
		}
		if accs.SourceSOL.Mint != g.cfg.MintSOL || accs.DestinationSOL.Mint != g.cfg.MintSOL {
			return fmt.Errorf("%w: SOL leg", ErrWrongTokenMint)
		}
		if accs.SourceOLAS.Mint != g.cfg.MintOLAS || accs.DestinationOLAS.Mint != g.cfg.MintOLAS {
			return fmt.Errorf("%w: OLAS leg", ErrWrongTokenMint)
		}
		if err := g.cfg.CheckTransferred(g.cfg.MintSOL, accs.SourceSOL.Amount); err != nil {
			return err
		}
		return g.cfg.CheckTransferred(g.cfg.MintOLAS, accs.SourceOLAS.Amount)
	})
	if err != nil {
		return err
	}

	if err := g.claim(env); err != nil {
		return err
	}

	amountSOL := accs.SourceSOL.Amount
	amountOLAS := accs.SourceOLAS.Amount
	if err := g.tokens.TransferAll(ctx, env,
		accs.SourceSOL.Address, accs.SourceOLAS.Address,
		accs.DestinationSOL.Address, accs.DestinationOLAS.Address); err != nil {
		return fmt.Errorf("sweep after replay claim: %w", err)
	}
	if err := g.cfg.AddTransferred(g.cfg.MintSOL, amountSOL); err != nil {
		return err
	}
	if err := g.cfg.AddTransferred(g.cfg.MintOLAS, amountOLAS); err != nil {
		return err
	}
	if err := g.commitTotals(); err != nil {
		return err
	}

	g.events.Emit(TransferAllEvent{
		Signer:          g.signer,
		DestinationSOL:  accs.DestinationSOL.Address,
		DestinationOLAS: accs.DestinationOLAS.Address,
		AmountSOL:       amountSOL,
		AmountOLAS:      amountOLAS,
	})
	return nil
}

// TransferTokenAccounts reassigns ownership of the treasury's SOL and OLAS
// token accounts to a new owner.
func (g *Governor) TransferTokenAccounts(ctx context.Context, env message.Envelope, msg message.TransferTokenAccounts, accs TransferTokenAccountsAccounts) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.verify(env, []accountMatch{
		{"source SOL", msg.SourceSOL, accs.SourceSOL.Address},
		{"source OLAS", msg.SourceOLAS, accs.SourceOLAS.Address},
		{"destination", msg.Destination, accs.Destination},
	}, func() error {
		if err := g.checkTreasuryOwned("source SOL", accs.SourceSOL); err != nil {
			return err
		}
		if err := g.checkTreasuryOwned("source OLAS", accs.SourceOLAS); err != nil {
			return err
		}
		if accs.SourceSOL.Mint != g.cfg.MintSOL {
			return fmt.Errorf("%w: source SOL mint %s", ErrWrongTokenMint, accs.SourceSOL.Mint)
		}
		if accs.SourceOLAS.Mint != g.cfg.MintOLAS {
			return fmt.Errorf("%w: source OLAS mint %s", ErrWrongTokenMint, accs.SourceOLAS.Mint)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := g.claim(env); err != nil {
		return err
	}
	if err := g.tokens.TransferTokenAccounts(ctx, env,
		accs.SourceSOL.Address, accs.SourceOLAS.Address, accs.Destination); err != nil {
		return fmt.Errorf("owner change after replay claim: %w", err)
	}

	g.events.Emit(TransferTokenAccountsEvent{
		Signer:      g.signer,
		SourceSOL:   accs.SourceSOL.Address,
		SourceOLAS:  accs.SourceOLAS.Address,
		Destination: accs.Destination,
	})
	return nil
}

// SetUpgradeAuthority reassigns a governed program's upgrade authority.
func (g *Governor) SetUpgradeAuthority(ctx context.Context, env message.Envelope, msg message.SetUpgradeAuthority, accs SetUpgradeAuthorityAccounts) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.verify(env, []accountMatch{
		{"program", msg.Program, accs.Program.Address},
		{"new authority", msg.NewAuthority, accs.NewAuthority},
	}, func() error {
		return g.checkUpgradeAuthority(accs.Program)
	})
	if err != nil {
		return err
	}

	if err := g.claim(env); err != nil {
		return err
	}
	if err := g.programs.SetUpgradeAuthority(ctx, env, accs.Program.Address, accs.NewAuthority); err != nil {
		return fmt.Errorf("authority change after replay claim: %w", err)
	}

	g.events.Emit(SetUpgradeAuthorityEvent{
		Signer:           g.signer,
		Program:          accs.Program.Address,
		UpgradeAuthority: accs.NewAuthority,
	})
	return nil
}

// UpgradeProgram redeploys a governed program from a staged buffer, with
// excess rent refunded to the spill account.
func (g *Governor) UpgradeProgram(ctx context.Context, env message.Envelope, msg message.UpgradeProgram, accs UpgradeProgramAccounts) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.verify(env, []accountMatch{
		{"program", msg.Program, accs.Program.Address},
		{"buffer", msg.Buffer, accs.Buffer},
		{"spill", msg.Spill, accs.Spill},
	}, func() error {
		return g.checkUpgradeAuthority(accs.Program)
	})
	if err != nil {
		return err
	}

	if err := g.claim(env); err != nil {
		return err
	}
	if err := g.programs.Upgrade(ctx, env, accs.Program.Address, accs.Buffer, accs.Spill); err != nil {
		return fmt.Errorf("upgrade after replay claim: %w", err)
	}

	g.events.Emit(UpgradeProgramEvent{
		Signer:  g.signer,
		Program: accs.Program.Address,
		Buffer:  accs.Buffer,
		Spill:   accs.Spill,
	})
	return nil
}
