package events

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"go.uber.org/zap"
)

// NewProducer configures and creates a Sarama AsyncProducer.
func NewProducer(cfg config.KafkaConfig, log *zap.Logger) (sarama.AsyncProducer, error) {
	saramaConfig, err := newSaramaConfig(cfg.Producer, log)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating Sarama AsyncProducer: %w", err)
	}
	return producer, nil
}

func newSaramaConfig(cfg config.ProducerConfig, log *zap.Logger) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = "billing-engine"

	acks, err := parseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = acks

	switch cfg.CompressionCodec {
	case "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		log.Warn("Unknown compression codec, defaulting to Snappy", zap.String("codec", cfg.CompressionCodec))
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	}

	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Flush.Bytes = cfg.FlushBytes
	saramaConfig.Producer.Retry.Max = cfg.RetryMax
	saramaConfig.Producer.Retry.Backoff = cfg.RetryBackoff
	saramaConfig.Producer.Return.Successes = cfg.ReturnSuccesses
	saramaConfig.Producer.Return.Errors = cfg.ReturnErrors
	// Key by unit so a unit's events stay ordered on one partition.
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return saramaConfig, nil
}

func parseRequiredAcks(v string) (sarama.RequiredAcks, error) {
	switch strings.ToLower(v) {
	case "none", "no_response":
		return sarama.NoResponse, nil
	case "leader", "local", "wait_for_local", "1":
		return sarama.WaitForLocal, nil
	case "all", "wait_for_all", "-1":
		return sarama.WaitForAll, nil
	default:
		return sarama.WaitForAll, fmt.Errorf("invalid kafka requiredAcks: %s", v)
	}
}
