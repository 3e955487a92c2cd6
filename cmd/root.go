package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/config"
	"github.com/wegman-software/airstream-go/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "airstream-go",
	Short: "Stream airport records from Kafka into PostgreSQL",
	Long: `airstream-go consumes airport JSON documents from a Kafka topic, flattens
them into one row per airport and appends every trigger window to PostgreSQL.

Features:
  - Accepts {"items": [...]} and bare [...] payloads
  - Runway statistics (count, longest runway) per airport
  - Per-window deduplication on airport_id
  - File checkpoints committed only after a successful write (at-least-once)
  - Optional console and Parquet archive pipelines`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			if err := applyConfigFile(cmd.Flags(), configFile); err != nil {
				logger.Init(logger.Options{Debug: cfg.Verbose})
				exitWithError("failed to load config file", err)
			}
		}
		logger.Init(logger.Options{Debug: cfg.Verbose, LogFile: cfg.LogFile})
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&configFile, "config", "c", "", "YAML config file (flags set on the command line take precedence)")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose output")
	pf.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path to log file for persistent logging (JSON format)")

	// Kafka flags
	pf.StringVarP(&cfg.Brokers, "brokers", "b", cfg.Brokers, "Comma separated Kafka bootstrap servers")
	pf.StringVarP(&cfg.Topic, "topic", "t", cfg.Topic, "Kafka topic carrying airport documents")
	pf.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "Client id reported to Kafka and PostgreSQL")

	// Database flags (persistent so they're available to all subcommands)
	pf.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	pf.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	pf.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	pf.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	pf.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	pf.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	pf.StringVar(&cfg.DBTable, "db-table", cfg.DBTable, "Target table")
	pf.StringVar(&cfg.WriteMode, "write-mode", cfg.WriteMode, "append, or upsert on airport_id")

	pf.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "Directory holding one checkpoint file per pipeline")
}

// applyConfigFile overlays a YAML file on the config while keeping the
// values of flags that were set explicitly
func applyConfigFile(flags *pflag.FlagSet, path string) error {
	var restore []func() error
	flags.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			vals := sv.GetSlice()
			restore = append(restore, func() error { return sv.Replace(vals) })
			return
		}
		val := f.Value.String()
		restore = append(restore, func() error { return f.Value.Set(val) })
	})

	if err := cfg.LoadFile(path); err != nil {
		return err
	}

	for _, fn := range restore {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
