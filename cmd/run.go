package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/airstream-go/internal/broker"
	"github.com/wegman-software/airstream-go/internal/checkpoint"
	"github.com/wegman-software/airstream-go/internal/logger"
	"github.com/wegman-software/airstream-go/internal/metrics"
	"github.com/wegman-software/airstream-go/internal/pipeline"
	"github.com/wegman-software/airstream-go/internal/sink"
)

// Pipeline names, also used for the checkpoint file names
const (
	pipelinePostgres = "postgres"
	pipelineConsole  = "console"
	pipelineArchive  = "archive"
)

var pipelineNames = []string{pipelinePostgres, pipelineConsole, pipelineArchive}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the streaming pipelines",
	Long: `Run the streaming pipelines until interrupted (Ctrl+C).

Every pipeline reads the topic on its own, seals a window on every trigger
tick and commits its checkpoint only after the window was written. A
window the sink rejects is retried until it is written; the other
pipelines keep running meanwhile:
  - postgres: deduplicated windows appended to the airports table
  - console:  every cleaned row printed to stdout (disable with --console=false)
  - archive:  deduplicated windows written as Parquet (enable with --archive-dir)

Examples:
  # Stream with defaults (kafka:9092, topic flights_positions, postgres:5432/mydb)
  airstream-go run

  # Local development, no console output, Prometheus metrics on :9102
  airstream-go run -b localhost:9092 --db-host localhost --console=false --metrics-addr :9102`,
	Run: runStream,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.DurationVar(&cfg.TriggerInterval, "trigger", cfg.TriggerInterval, "Window length between batch writes")
	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per COPY chunk")
	f.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Parallel decode workers per window")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Abort a single write attempt after this long (0 = no limit)")
	f.IntVar(&cfg.Retry.Attempts, "retry-attempts", cfg.Retry.Attempts, "Write attempts per trigger before a window waits for the next trigger")
	f.DurationVar(&cfg.Retry.Backoff, "retry-backoff", cfg.Retry.Backoff, "Initial wait between write attempts")
	f.DurationVar(&cfg.Retry.MaxBackoff, "retry-max-backoff", cfg.Retry.MaxBackoff, "Upper bound for the wait between write attempts")
	f.BoolVar(&cfg.Console, "console", cfg.Console, "Run the console pipeline")
	f.StringVar(&cfg.ArchiveDir, "archive-dir", cfg.ArchiveDir, "Run the archive pipeline writing Parquet files here")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9102)")
	f.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (0 = off)")
}

type pipelinePlan struct {
	name  string
	sink  sink.Sink
	dedup bool
}

func runStream(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plans, err := buildSinks(ctx)
	if err != nil {
		exitWithError("failed to set up sinks", err)
	}
	defer func() {
		for _, s := range plans {
			s.sink.Close()
		}
	}()

	m := metrics.NewPipeline()

	// Pipelines share only the signal context, so one pipeline stopping
	// never cancels the others.
	var drivers errgroup.Group
	for _, plan := range plans {
		driver, err := newDriver(plan, m)
		if err != nil {
			exitWithError("failed to create pipeline", err)
		}
		name := plan.name
		drivers.Go(func() error {
			err := driver.Run(ctx)
			if err != nil {
				log.Error("Pipeline stopped", zap.String("pipeline", name), zap.Error(err))
			}
			return err
		})
	}

	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()
	aux, auxCtx := errgroup.WithContext(auxCtx)
	if cfg.MetricsAddr != "" {
		serveMetrics(auxCtx, aux, m)
	}
	if cfg.MetricsInterval > 0 {
		collector := metrics.NewCollector(cfg.MetricsInterval, log, m)
		aux.Go(func() error {
			collector.Start(auxCtx)
			return nil
		})
	}

	log.Info("Streaming started",
		zap.String("topic", cfg.Topic),
		zap.Strings("brokers", cfg.BrokerList()),
		zap.Int("pipelines", len(plans)),
		zap.Duration("trigger", cfg.TriggerInterval))

	err = drivers.Wait()
	stopAux()
	if auxErr := aux.Wait(); err == nil {
		err = auxErr
	}
	if err != nil {
		exitWithError("streaming stopped", err)
	}
	log.Info("Streaming stopped")
}

func buildSinks(ctx context.Context) ([]pipelinePlan, error) {
	pg, err := sink.NewPostgres(ctx, cfg, logger.Named(pipelinePostgres))
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureTable(ctx, false); err != nil {
		pg.Close()
		return nil, err
	}

	plans := []pipelinePlan{{name: pipelinePostgres, sink: pg, dedup: true}}
	if cfg.Console {
		plans = append(plans, pipelinePlan{name: pipelineConsole, sink: sink.NewConsole(os.Stdout)})
	}
	if cfg.ArchiveDir != "" {
		archive, err := sink.NewArchive(cfg.ArchiveDir, logger.Named(pipelineArchive))
		if err != nil {
			pg.Close()
			return nil, err
		}
		plans = append(plans, pipelinePlan{name: pipelineArchive, sink: archive, dedup: true})
	}
	return plans, nil
}

func newDriver(plan pipelinePlan, m *metrics.Pipeline) (*pipeline.Driver, error) {
	store, err := checkpoint.NewFileStore(cfg.CheckpointDir, checkpointName(plan.name))
	if err != nil {
		return nil, err
	}
	src := broker.NewSource(broker.SourceConfig{
		Brokers:  cfg.BrokerList(),
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID,
	}, logger.Named(plan.name))

	return pipeline.New(pipeline.Options{
		Name:    plan.name,
		Topic:   cfg.Topic,
		Dedup:   plan.dedup,
		Trigger: cfg.TriggerInterval,
		Workers: cfg.Workers,
		Retry: pipeline.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
		WriteTimeout: cfg.WriteTimeout,
	}, src, plan.sink, store, m, logger.Get()), nil
}

func checkpointName(pipelineName string) string {
	return "airports_" + pipelineName
}

func serveMetrics(ctx context.Context, g *errgroup.Group, m *metrics.Pipeline) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Get().Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
