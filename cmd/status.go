package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valory-xyz/lockbox-governor-solana/internal/state"
)

// statusCmd prints the governor's persisted state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the governor config, transfer totals and replay ledger size",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := state.Open(viper.GetString("db_dir"))
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := store.LoadConfig()
	if err != nil {
		return err
	}
	processed, err := store.ReceivedCount()
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

	fmt.Printf("Foreign chain:        %d\n", cfg.Chain)
	fmt.Printf("Foreign emitter:      0x%s\n", hex.EncodeToString(cfg.ForeignEmitter[:]))
	fmt.Printf("Treasury authority:   %s (bump %d)\n", authority.Address, cfg.Bump)
	fmt.Printf("SOL mint:             %s\n", cfg.MintSOL)
	fmt.Printf("OLAS mint:            %s\n", cfg.MintOLAS)
	fmt.Printf("Total SOL moved:      %d\n", cfg.TotalSOLTransferred)
	fmt.Printf("Total OLAS moved:     %d\n", cfg.TotalOLASTransferred)
	fmt.Printf("Messages processed:   %d\n", processed)
	return nil
}
