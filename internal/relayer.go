// Package internal wires the inbound VAA stream to the governor core: it
// subscribes to a Wormhole spy node, filters for the configured foreign
// emitter, resolves the live accounts each message names, and dispatches the
// decoded governance action.
package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal/clients"
	"github.com/valory-xyz/lockbox-governor-solana/internal/governor"
	"github.com/valory-xyz/lockbox-governor-solana/internal/message"
	"github.com/valory-xyz/lockbox-governor-solana/internal/observe"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

// AccountReader resolves live account snapshots for the addresses a
// governance message names.
type AccountReader interface {
	GetTokenAccount(ctx context.Context, addr solana.PublicKey) (governor.TokenAccount, error)
	GetProgramAccount(ctx context.Context, addr solana.PublicKey) (governor.ProgramAccount, error)
}

// Relayer consumes signed VAAs and drives the governor.
type Relayer struct {
	spyClient *clients.SpyClient
	accounts  AccountReader
	gov       *governor.Governor
	metrics   *observe.RelayMetrics
	logger    *zap.Logger
}

// NewRelayer creates a new relayer instance.
func NewRelayer(logger *zap.Logger, spyClient *clients.SpyClient, accounts AccountReader, gov *governor.Governor) *Relayer {
	return &Relayer{
		spyClient: spyClient,
		accounts:  accounts,
		gov:       gov,
		metrics:   observe.Metrics(),
		logger:    logger.With(zap.String("component", "Relayer")),
	}
}

// Close cleans up resources used by the relayer.
func (r *Relayer) Close() {
	if r.spyClient != nil {
		r.spyClient.Close()
	}
}

// Start listens for VAAs and processes them until the context is cancelled.
// In-flight messages are drained before returning.
func (r *Relayer) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	stream, err := r.spyClient.SubscribeSignedVAA(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to VAA stream: %w", err)
	}

	r.logger.Info("Listening for governance VAAs")

	processingCtx, cancelProcessing := context.WithCancel(context.Background())
	defer cancelProcessing()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down relayer")
			cancelProcessing()
			r.logger.Info("Waiting for in-flight messages to drain")
			wg.Wait()
			r.logger.Info("Shutdown complete")
			return nil
		default:
			resp, err := stream.Recv()
			if err != nil {
				r.logger.Warn("Stream error, resubscribing in 5s", zap.Error(err))
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					continue
				}
				stream, err = r.spyClient.SubscribeSignedVAA(ctx)
				if err != nil {
					cancelProcessing()
					wg.Wait()
					return fmt.Errorf("resubscribe to VAA stream: %w", err)
				}
				continue
			}

			wg.Add(1)
			go func(vaaBytes []byte) {
				defer wg.Done()
				r.processVAA(processingCtx, vaaBytes)
			}(resp.VaaBytes)
		}
	}
}

func (r *Relayer) processVAA(ctx context.Context, vaaBytes []byte) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	r.metrics.Received.Inc()

	v, err := vaaLib.Unmarshal(vaaBytes)
	if err != nil {
		r.logger.Error("Failed to parse VAA", zap.Error(err))
		return
	}

	env, err := message.EnvelopeFromVAA(v, vaaBytes)
	if err != nil {
		r.logger.Error("Failed to build envelope", zap.Error(err))
		return
	}

	cfg := r.gov.Config()
	if env.EmitterChain != cfg.Chain || !cfg.VerifyEmitter(env.EmitterAddress) {
		// Not addressed to this governor; the spy stream carries all traffic.
		r.metrics.Skipped.Inc()
		r.logger.Debug("Skipping VAA from unrelated emitter",
			zap.Uint16("chain", env.EmitterChain),
			zap.Uint64("sequence", env.Sequence))
		return
	}

	r.logger.Info("Received governance VAA",
		zap.Uint16("chain", env.EmitterChain),
		zap.Uint64("sequence", env.Sequence),
		zap.Int("payloadLength", len(v.Payload)))

	if err := r.dispatch(ctx, env, v.Payload); err != nil {
		if errors.Is(err, state.ErrAlreadyProcessed) {
			r.metrics.Rejected.WithLabelValues("already_processed").Inc()
			r.logger.Info("Message already processed, skipping",
				zap.Uint16("chain", env.EmitterChain),
				zap.Uint64("sequence", env.Sequence))
			return
		}
		r.metrics.Rejected.WithLabelValues(rejectReason(err)).Inc()
		r.logger.Error("Failed to execute governance message",
			zap.Uint16("chain", env.EmitterChain),
			zap.Uint64("sequence", env.Sequence),
			zap.Error(err))
		return
	}
}

// dispatch decodes the payload, resolves the live accounts it names and runs
// the matching handler.
func (r *Relayer) dispatch(ctx context.Context, env message.Envelope, payload []byte) error {
	p, err := message.Decode(payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	switch msg := p.(type) {
	case message.Transfer:
		source, err := r.accounts.GetTokenAccount(ctx, msg.Source)
		if err != nil {
			return err
		}
		destination, err := r.accounts.GetTokenAccount(ctx, msg.Destination)
		if err != nil {
			return err
		}
		if err := r.gov.Transfer(ctx, env, msg, governor.TransferAccounts{
			Source:      source,
			Destination: destination,
		}); err != nil {
			return err
		}
		r.metrics.Dispatched.WithLabelValues("transfer").Inc()

	case message.TransferAll:
		sourceSOL, err := r.accounts.GetTokenAccount(ctx, msg.SourceSOL)
		if err != nil {
			return err
		}
		sourceOLAS, err := r.accounts.GetTokenAccount(ctx, msg.SourceOLAS)
		if err != nil {
			return err
		}
		destSOL, err := r.accounts.GetTokenAccount(ctx, msg.DestinationSOL)
		if err != nil {
			return err
		}
		destOLAS, err := r.accounts.GetTokenAccount(ctx, msg.DestinationOLAS)
		if err != nil {
			return err
		}
		if err := r.gov.TransferAll(ctx, env, msg, governor.TransferAllAccounts{
			SourceSOL:       sourceSOL,
			SourceOLAS:      sourceOLAS,
			DestinationSOL:  destSOL,
			DestinationOLAS: destOLAS,
		}); err != nil {
			return err
		}
		r.metrics.Dispatched.WithLabelValues("transfer_all").Inc()

	case message.TransferTokenAccounts:
		sourceSOL, err := r.accounts.GetTokenAccount(ctx, msg.SourceSOL)
		if err != nil {
			return err
		}
		sourceOLAS, err := r.accounts.GetTokenAccount(ctx, msg.SourceOLAS)
		if err != nil {
			return err
		}
		if err := r.gov.TransferTokenAccounts(ctx, env, msg, governor.TransferTokenAccountsAccounts{
			SourceSOL:   sourceSOL,
			SourceOLAS:  sourceOLAS,
			Destination: msg.Destination,
		}); err != nil {
			return err
		}
		r.metrics.Dispatched.WithLabelValues("transfer_token_accounts").Inc()

	case message.SetUpgradeAuthority:
		program, err := r.accounts.GetProgramAccount(ctx, msg.Program)
		if err != nil {
			return err
		}
		if err := r.gov.SetUpgradeAuthority(ctx, env, msg, governor.SetUpgradeAuthorityAccounts{
			Program:      program,
			NewAuthority: msg.NewAuthority,
		}); err != nil {
			return err
		}
		r.metrics.Dispatched.WithLabelValues("set_upgrade_authority").Inc()

	case message.UpgradeProgram:
		program, err := r.accounts.GetProgramAccount(ctx, msg.Program)
		if err != nil {
			return err
		}
		if err := r.gov.UpgradeProgram(ctx, env, msg, governor.UpgradeProgramAccounts{
			Program: program,
			Buffer:  msg.Buffer,
			Spill:   msg.Spill,
		}); err != nil {
			return err
		}
		r.metrics.Dispatched.WithLabelValues("upgrade_program").Inc()

	default:
		return fmt.Errorf("unhandled payload type %T", p)
	}

	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrInvalidForeignEmitter):
		return "invalid_foreign_emitter"
	case errors.Is(err, governor.ErrInvalidForeignChain):
		return "invalid_foreign_chain"
	case errors.Is(err, governor.ErrWrongAccount):
		return "wrong_account"
	case errors.Is(err, governor.ErrWrongTokenMint):
		return "wrong_token_mint"
	case errors.Is(err, governor.ErrWrongAccountOwner):
		return "wrong_account_owner"
	case errors.Is(err, governor.ErrWrongUpgradeAuthority):
		return "wrong_upgrade_authority"
	case errors.Is(err, state.ErrOverflow):
		return "overflow"
	default:
		return "other"
	}
}
