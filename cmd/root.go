package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockbox-governor",
	Short: "Cross-chain governance relay for the lockbox treasury on Solana",
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	rootCmd.PersistentFlags().Bool(
		"debug",
		false,
		"Enables debug output.")

	rootCmd.PersistentFlags().Bool(
		"json",
		false,
		"Enables structured logging in JSON format.")

	rootCmd.PersistentFlags().String(
		"db-dir",
		"data",
		"Directory for the governor's config and replay ledger database")

	rootCmd.PersistentFlags().String(
		"program-id",
		"DWDGo2UkBUFZ3VitBfWRBMvRnHr7E2DSh57NK27xMYaB",
		"Lockbox governor program ID (treasury authority derivation)")

	_ = viper.BindPFlag("db_dir", rootCmd.PersistentFlags().Lookup("db-dir"))
	_ = viper.BindPFlag("program_id", rootCmd.PersistentFlags().Lookup("program-id"))

	cobra.OnInitialize(initConfig)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// solanaProgramID parses the configured lockbox governor program ID.
func solanaProgramID() (solana.PublicKey, error) {
	id, err := solana.PublicKeyFromBase58(viper.GetString("program_id"))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program ID: %w", err)
	}
	return id, nil
}

func initConfig() {
	viper.SetEnvPrefix("lockbox-governor")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

func printBanner() {
	colours := []string{
		"\033[38;5;81m", // Cyan
		"\033[38;5;75m", // Light Blue
		"\033[38;5;69m", // Sky Blue
		"\033[38;5;63m", // Dodger Blue
		"\033[38;5;57m", // Deep Sky Blue
		"\033[38;5;51m", // Cornflower Blue
	}
	banner := `
.____                  __   ___.                     ________
|    |    ____   ____ |  | _\_ |__   _______  ___   /  _____/  _______  __ ___________  ____   ___________
|    |   /  _ \_/ ___\|  |/ /| __ \ /  _ \  \/  /  /   \  ___ /  _ \  \/ // __ \_  __ \/    \ /  _ \_  __ \
|    |__(  <_> )  \___|    < | \_\ (  <_> >    <   \    \_\  (  <_> )   /\  ___/|  | \/   |  (  <_> )  | \/
|_______ \____/ \___  >__|_ \|___  /\____/__/\_ \   \______  /\____/ \_/  \___  >__|  |___|  /\____/|__|
        \/          \/     \/    \/            \/          \/                 \/           \/
`
	lines := strings.Split(banner, "\n")

	// remove empty lines
	for i := 0; i < len(lines); i++ {
		if lines[i] == "" {
			lines = append(lines[:i], lines[i+1:]...)
			i--
		}
	}

	for i, line := range lines {
		fmt.Printf("%s%s\n", colours[i%len(colours)], line)
	}

	fmt.Println("\033[0m") // Reset
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	zap.ReplaceGlobals(logger)

	return logger
}
