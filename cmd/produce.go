package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/airport"
	"github.com/wegman-software/airstream-go/internal/broker"
	"github.com/wegman-software/airstream-go/internal/logger"
)

var (
	produceEnvelope   string
	createTopic       bool
	topicPartitions   int
	replicationFactor int
)

var produceCmd = &cobra.Command{
	Use:   "produce [file...]",
	Short: "Publish airport JSON files to the topic",
	Long: `Publish airport JSON documents to the topic, one message per file.
Use - (or no argument) to read a single document from stdin.

Each document is either {"items": [...]} or a bare [...] list. With
--envelope the elements are re-wrapped in the chosen shape before publishing.

Examples:
  # Create the topic with three partitions and publish two files
  airstream-go produce --create-topic --partitions 3 airports-1.json airports-2.json

  # Re-wrap a list document as {"items": [...]}
  cat airports.json | airstream-go produce --envelope items`,
	Run: runProduce,
}

func init() {
	rootCmd.AddCommand(produceCmd)

	f := produceCmd.Flags()
	f.StringVar(&produceEnvelope, "envelope", "keep", "Envelope to publish: keep, items or list")
	f.BoolVar(&createTopic, "create-topic", false, "Create the topic before publishing")
	f.IntVar(&topicPartitions, "partitions", 1, "Partition count for --create-topic")
	f.IntVar(&replicationFactor, "replication-factor", 1, "Replication factor for --create-topic")
}

func runProduce(cmd *cobra.Command, args []string) {
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		exitWithError("at least one broker is required", nil)
	}

	if createTopic {
		err := broker.CreateTopics(ctx, brokers, broker.TopicConfig{
			Topic:             cfg.Topic,
			NumPartitions:     topicPartitions,
			ReplicationFactor: replicationFactor,
		})
		if err != nil {
			exitWithError("failed to create topic", err)
		}
		log.Info("Topic ready", zap.String("topic", cfg.Topic), zap.Int("partitions", topicPartitions))
	}

	if len(args) == 0 {
		args = []string{"-"}
	}

	payloads := make([][]byte, 0, len(args))
	for _, path := range args {
		payload, err := readDocument(path)
		if err != nil {
			exitWithError("failed to read document", err)
		}
		payload, err = rewrap(payload, produceEnvelope)
		if err != nil {
			exitWithError(fmt.Sprintf("invalid document %s", path), err)
		}
		payloads = append(payloads, payload)
	}

	producer := broker.NewProducer(brokers, cfg.Topic)
	defer producer.Close()

	if err := producer.Publish(ctx, payloads...); err != nil {
		exitWithError("failed to publish", err)
	}
	log.Info("Published documents", zap.String("topic", cfg.Topic), zap.Int("messages", len(payloads)))
}

func readDocument(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// rewrap converts a document to the requested envelope. "keep" publishes
// the document unchanged.
func rewrap(payload []byte, envelope string) ([]byte, error) {
	if envelope == "keep" {
		return payload, nil
	}
	env, err := airport.ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	_, elems, err := airport.Elements(payload)
	if err != nil {
		return nil, err
	}
	return airport.Encode(env, elems)
}
