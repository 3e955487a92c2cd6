package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/checkpoint"
	"github.com/wegman-software/airstream-go/internal/logger"
)

var checkpointPipelines []string

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset pipeline checkpoints",
	Long: `Inspect or reset the per-pipeline checkpoint files under --checkpoint-dir.

Examples:
  # Show where every pipeline will resume
  airstream-go checkpoint status

  # Forget the postgres pipeline position; its next start reads new data only
  airstream-go checkpoint reset --pipeline postgres`,
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show committed batch ids and offsets",
	Run:   runCheckpointStatus,
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete checkpoints so the next start is a cold start",
	Run:   runCheckpointReset,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointStatusCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)

	checkpointCmd.PersistentFlags().StringSliceVar(&checkpointPipelines, "pipeline", pipelineNames, "Pipelines to act on")
}

func checkpointStores() ([]*checkpoint.FileStore, error) {
	stores := make([]*checkpoint.FileStore, 0, len(checkpointPipelines))
	for _, name := range checkpointPipelines {
		if !knownPipeline(name) {
			return nil, fmt.Errorf("unknown pipeline %q (want one of %v)", name, pipelineNames)
		}
		store, err := checkpoint.NewFileStore(cfg.CheckpointDir, checkpointName(name))
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}

func knownPipeline(name string) bool {
	for _, n := range pipelineNames {
		if n == name {
			return true
		}
	}
	return false
}

func runCheckpointStatus(cmd *cobra.Command, args []string) {
	stores, err := checkpointStores()
	if err != nil {
		exitWithError("invalid pipeline", err)
	}

	for i, store := range stores {
		fmt.Printf("[%s] %s\n", checkpointPipelines[i], store.Path())
		state, err := store.Load()
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Println("No checkpoint (cold start at latest offsets)")
			fmt.Println()
			continue
		}
		if err != nil {
			exitWithError("failed to load checkpoint", err)
		}
		fmt.Print(state.String())
		fmt.Println()
	}
}

func runCheckpointReset(cmd *cobra.Command, args []string) {
	log := logger.Get()

	stores, err := checkpointStores()
	if err != nil {
		exitWithError("invalid pipeline", err)
	}
	for i, store := range stores {
		if err := store.Reset(); err != nil {
			exitWithError("failed to reset checkpoint", err)
		}
		log.Info("Checkpoint reset",
			zap.String("pipeline", checkpointPipelines[i]),
			zap.String("path", store.Path()))
	}
}
