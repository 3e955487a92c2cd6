package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/logger"
	"github.com/wegman-software/airstream-go/internal/sink"
)

var dropExisting bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the airports table",
	Long: `Create the target schema, table and airport_id index.

In upsert mode (--write-mode upsert) the index is unique, which the
ON CONFLICT merge requires. 'run' creates a missing table on its own; use
this command to prepare the database ahead of time or to start over with
--drop-existing.`,
	Run: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop the table before creating it")
}

func runSchema(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	pg, err := sink.NewPostgres(ctx, cfg, log)
	if err != nil {
		exitWithError("failed to connect to PostgreSQL", err)
	}
	defer pg.Close()

	if err := pg.EnsureTable(ctx, dropExisting); err != nil {
		exitWithError("failed to create table", err)
	}

	log.Info("Table ready",
		zap.String("schema", cfg.DBSchema),
		zap.String("table", cfg.DBTable),
		zap.String("write_mode", cfg.WriteMode),
		zap.Bool("dropped", dropExisting))
}
