package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal"
	"github.com/valory-xyz/lockbox-governor-solana/internal/clients"
	"github.com/valory-xyz/lockbox-governor-solana/internal/governor"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

const (
	// Default configuration values
	DefaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"
	DefaultSpyRPCHost   = "localhost:7073"
)

// relayCmd runs the governance relay loop.
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay governance VAAs to the lockbox treasury",
	Long: `Listens for signed Wormhole VAAs from the configured foreign timelock and
executes the governance actions they carry: token transfers, full-balance
sweeps, token account reassignment, upgrade authority changes and program
upgrades. Each message executes exactly once; replays are dropped.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
		configureLogging(cmd, args)
	},
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().String(
		"spy-rpc-host",
		DefaultSpyRPCHost,
		"Wormhole spy service endpoint")

	relayCmd.Flags().String(
		"solana-rpc-url",
		DefaultSolanaRPCURL,
		"RPC URL for Solana")

	relayCmd.Flags().String(
		"solana-private-key",
		"",
		"Private key for Solana transactions (base58 encoded, required)")

	relayCmd.Flags().String(
		"wormhole-program-id",
		clients.DefaultWormholeProgramID.String(),
		"Wormhole core bridge program ID (posted VAA lookups)")

	relayCmd.Flags().String(
		"metrics-addr",
		"",
		"Listen address for the Prometheus /metrics endpoint (disabled if empty)")

	_ = relayCmd.MarkFlagRequired("solana-private-key")

	_ = viper.BindPFlag("spy_rpc_host", relayCmd.Flags().Lookup("spy-rpc-host"))
	_ = viper.BindPFlag("solana_rpc_url", relayCmd.Flags().Lookup("solana-rpc-url"))
	_ = viper.BindPFlag("solana_private_key", relayCmd.Flags().Lookup("solana-private-key"))
	_ = viper.BindPFlag("wormhole_program_id", relayCmd.Flags().Lookup("wormhole-program-id"))
	_ = viper.BindPFlag("metrics_addr", relayCmd.Flags().Lookup("metrics-addr"))
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	logger.Info("Starting lockbox governor relay")

	privateKey := viper.GetString("solana_private_key")
	if privateKey == "" {
		return fmt.Errorf("Solana private key is required")
	}

	store, err := state.Open(viper.GetString("db_dir"))
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := store.LoadConfig()
	if err != nil {
		return err
	}

	programID, err := solanaProgramID()
	if err != nil {
		return err
	}
	authority, err := state.DeriveTreasuryAuthority(programID)
	if err != nil {
		return err
	}

	logger.Info("Configuration",
		zap.String("spyRPC", viper.GetString("spy_rpc_host")),
		zap.String("solanaRPC", viper.GetString("solana_rpc_url")),
		zap.Uint16("foreignChain", cfg.Chain),
		zap.String("treasuryAuthority", authority.Address.String()))

	spyClient, err := clients.NewSpyClient(logger, viper.GetString("spy_rpc_host"))
	if err != nil {
		return fmt.Errorf("create spy client: %w", err)
	}

	wormholeProgramID, err := solana.PublicKeyFromBase58(viper.GetString("wormhole_program_id"))
	if err != nil {
		return fmt.Errorf("invalid wormhole program ID: %w", err)
	}

	solanaClient, err := clients.NewSolanaClient(logger, viper.GetString("solana_rpc_url"), privateKey, programID, wormholeProgramID)
	if err != nil {
		return fmt.Errorf("create Solana client: %w", err)
	}

	gov := governor.New(
		logger,
		cfg,
		store,
		solanaClient,
		solanaClient,
		authority,
		solanaClient.GetPayerAddress(),
		governor.NewLogSink(logger),
	)

	relayer := internal.NewRelayer(logger, spyClient, solanaClient, gov)
	defer relayer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := viper.GetString("metrics_addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("Serving metrics", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := relayer.Start(ctx); err != nil {
		return fmt.Errorf("relayer stopped with error: %w", err)
	}

	return nil
}
