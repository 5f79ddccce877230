package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valory-xyz/lockbox-governor-solana/internal/governor"
	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

// initCmd registers the trusted foreign emitter. Run once per deployment.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the governor config with the trusted foreign emitter",
	Long: `Creates the singleton governor configuration: the foreign chain ID and
timelock address whose messages this governor will execute, and the governed
token mints. Fails if a configuration already exists.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Uint16(
		"chain",
		0,
		"Wormhole chain ID of the foreign emitter (required)")

	initCmd.Flags().String(
		"emitter-address",
		"",
		"Foreign timelock address, 32 bytes hex (required)")

	initCmd.Flags().String(
		"mint-sol",
		state.DefaultMintSOL.String(),
		"Governed SOL mint address")

	initCmd.Flags().String(
		"mint-olas",
		state.DefaultMintOLAS.String(),
		"Governed OLAS mint address")

	_ = initCmd.MarkFlagRequired("chain")
	_ = initCmd.MarkFlagRequired("emitter-address")
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)

	chain, _ := cmd.Flags().GetUint16("chain")
	emitterHex, _ := cmd.Flags().GetString("emitter-address")
	mintSOLStr, _ := cmd.Flags().GetString("mint-sol")
	mintOLASStr, _ := cmd.Flags().GetString("mint-olas")

	emitter, err := parseEmitterAddress(emitterHex)
	if err != nil {
		return err
	}
	mintSOL, err := solana.PublicKeyFromBase58(mintSOLStr)
	if err != nil {
		return fmt.Errorf("invalid SOL mint: %w", err)
	}
	mintOLAS, err := solana.PublicKeyFromBase58(mintOLASStr)
	if err != nil {
		return fmt.Errorf("invalid OLAS mint: %w", err)
	}
	programID, err := solanaProgramID()
	if err != nil {
		return err
	}

	authority, err := state.DeriveTreasuryAuthority(programID)
	if err != nil {
		return err
	}

	store, err := state.Open(viper.GetString("db_dir"))
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := governor.Initialize(store, chain, emitter, authority, mintSOL, mintOLAS)
	if err != nil {
		return err
	}

	logger.Info("Governor initialized",
		zap.Uint16("chain", cfg.Chain),
		zap.String("emitter", hex.EncodeToString(cfg.ForeignEmitter[:])),
		zap.String("treasuryAuthority", authority.Address.String()),
		zap.String("mintSOL", cfg.MintSOL.String()),
		zap.String("mintOLAS", cfg.MintOLAS.String()))
	return nil
}

// parseEmitterAddress decodes a hex emitter address, tolerating a 0x prefix
// and short input (left-padded to 32 bytes, the Wormhole convention).
func parseEmitterAddress(s string) ([32]byte, error) {
	var out [32]byte

	addr := strings.ToLower(strings.TrimPrefix(s, "0x"))
	for len(addr) < 64 {
		addr = "0" + addr
	}
	if len(addr) > 64 {
		return out, fmt.Errorf("emitter address too long: %s", s)
	}

	raw, err := hex.DecodeString(addr)
	if err != nil {
		return out, fmt.Errorf("invalid emitter address %q: %w", s, err)
	}
	copy(out[:], raw)
	return out, nil
}
