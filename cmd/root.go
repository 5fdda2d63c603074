package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cardcat/internal/catalog"
	"cardcat/internal/config"
	"cardcat/internal/local"
	"cardcat/internal/logging"
	"cardcat/internal/mock"
	"cardcat/internal/recorder"
	"cardcat/internal/registry"
)

var (
	BuildVersion = "dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

var (
	cfgFile   string
	debug     bool
	debugFile string
	showCalls bool

	callLog = recorder.New(recorder.DefaultCapacity)
)

var rootCmd = &cobra.Command{
	Use:   "cardcat",
	Short: "Cardcat - Container Registry Catalog Browser",
	Long: `Cardcat browses image catalogs across remote registries, local container
runtimes and mock sources through one unified, paginated view.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logging.Options{Debug: debug, DebugFile: debugFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showCalls && cmd != callsCmd {
			fmt.Println()
			printCalls(callLog.Snapshot())
		}
	},
}

func Execute(version, commit, date string) {
	BuildVersion = version
	BuildCommit = commit
	BuildDate = date
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cardcat.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&debugFile, "debug-file", "", "write debug logs to a rotating file")
	rootCmd.PersistentFlags().BoolVar(&showCalls, "show-calls", false, "dump the backend call log after the command finishes")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config file in standard locations
		viper.SetConfigName("cardcat")
		viper.SetConfigType("toml")

		// Current directory (highest priority)
		viper.AddConfigPath(".")

		// User config directory
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/cardcat")
		}

		// User home directory
		if homeDir, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(homeDir + "/.cardcat")
			viper.AddConfigPath(homeDir)
		}
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
	}
}

// newAggregator wires the configured registries into an aggregator, one
// backend client per descriptor kind.
func newAggregator() (*catalog.Aggregator, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	agg := catalog.New(cfg, func(reg config.Registry) (catalog.Client, error) {
		switch reg.Kind() {
		case config.KindLocal:
			return local.New(reg, callLog)
		case config.KindMock:
			return mock.New(reg.ID, cfg.Settings.PageSize), nil
		default:
			return registry.New(reg, cfg.Settings, callLog)
		}
	})
	return agg, cfg, nil
}

func fatal(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
