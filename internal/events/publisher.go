// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"github.com/deannos/billing-engine-nuvaris/internal/metrics"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("event publisher stopped")
	ErrQueueFull = errors.New("event channel full")
)

// Publisher ships bill events to Kafka through a worker pool. Failed
// produces are retried with backoff and end up on the dead-letter topic.
type Publisher struct {
	cfg      config.PublisherConfig
	topic    string
	dlqTopic string
	log      *zap.Logger
	producer sarama.AsyncProducer

	events  chan model.BillEvent
	retries chan *sarama.ProducerMessage

	workerWg      sync.WaitGroup
	retryWorkerWg sync.WaitGroup
	notifyWg      sync.WaitGroup

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps an already configured producer.
func NewPublisher(cfg config.PublisherConfig, kafka config.KafkaConfig, producer sarama.AsyncProducer, log *zap.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		cfg:            cfg,
		topic:          kafka.Topic,
		dlqTopic:       kafka.DLQTopic,
		log:            log,
		producer:       producer,
		events:         make(chan model.BillEvent, cfg.EventChannelCapacity),
		retries:        make(chan *sarama.ProducerMessage, cfg.Retry.ChannelCapacity),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start launches the worker pools and the producer notification handler.
func (p *Publisher) Start() {
	p.log.Info("Starting event publisher...",
		zap.Int("num_workers", p.cfg.NumWorkers),
		zap.Int("event_channel_capacity", cap(p.events)),
		zap.Int("retry_channel_capacity", cap(p.retries)),
		zap.Int("num_retry_workers", p.cfg.Retry.NumWorkers),
	)

	p.notifyWg.Add(1)
	go p.handleProducerNotifications()

	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}
	for i := 0; i < p.cfg.Retry.NumWorkers; i++ {
		p.retryWorkerWg.Add(1)
		go p.retryWorker(i)
	}
}

// Publish queues an event without blocking. It fails once Stop has begun or
// when the queue is full.
func (p *Publisher) Publish(ctx context.Context, ev model.BillEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrStopped
	}

	select {
	case p.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		metrics.EventsDropped.Inc()
		return ErrQueueFull
	}
}

// Stop drains queued events into the producer, abandons pending retries and
// closes the producer.
func (p *Publisher) Stop() {
	p.log.Info("Stopping event publisher...")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	p.workerWg.Wait()
	p.log.Info("Workers stopped.")

	p.shutdownCancel()
	p.retryWorkerWg.Wait()
	p.log.Info("Retry workers stopped.")

	if err := p.producer.Close(); err != nil {
		p.log.Error("Error closing Kafka producer", zap.Error(err))
	}
	p.notifyWg.Wait()
	p.log.Info("Event publisher stopped.")
}

func (p *Publisher) worker(id int) {
	defer p.workerWg.Done()
	for ev := range p.events {
		p.send(ev)
	}
	p.log.Debug("Event channel closed, worker exiting", zap.Int("worker_id", id))
}

func (p *Publisher) send(ev model.BillEvent) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("Failed to marshal bill event", zap.String("event_id", ev.EventID), zap.Error(err))
		metrics.EventsDropped.Inc()
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Unit),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
			{Key: []byte("event_id"), Value: []byte(ev.EventID)},
		},
	}

	select {
	case p.producer.Input() <- msg:
		metrics.EventsAccepted.Inc()
		p.log.Debug("Bill event sent to Kafka producer input",
			zap.String("event_id", ev.EventID),
			zap.String("type", string(ev.Type)),
		)
	default:
		p.log.Warn("Kafka producer input channel full. Dropping bill event.",
			zap.String("event_id", ev.EventID),
			zap.String("topic", p.topic),
		)
		metrics.EventsDropped.Inc()
	}
}

// handleProducerNotifications runs until the producer closes both channels.
func (p *Publisher) handleProducerNotifications() {
	defer p.notifyWg.Done()

	successes, errs := p.producer.Successes(), p.producer.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			metrics.KafkaSuccesses.Inc()
			p.log.Debug("Message successfully sent to Kafka",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			metrics.KafkaErrors.Inc()
			p.log.Error("Failed to produce message to Kafka",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err),
			)
			p.sendToRetryQueue(perr.Msg)
		}
	}
}

func (p *Publisher) sendToRetryQueue(msg *sarama.ProducerMessage) {
	if p.shutdownCtx.Err() != nil {
		p.log.Warn("Publisher shutting down. Dropping failed message.", zap.String("topic", msg.Topic))
		metrics.EventsDropped.Inc()
		return
	}
	select {
	case p.retries <- msg:
		p.log.Debug("Message sent to retry queue", zap.String("topic", msg.Topic))
	default:
		p.log.Error("Retry queue full. Dropping failed message.", zap.String("topic", msg.Topic))
		metrics.EventsDropped.Inc()
	}
}

func (p *Publisher) retryWorker(id int) {
	defer p.retryWorkerWg.Done()
	for {
		select {
		case msg := <-p.retries:
			p.retryMessage(msg)
		case <-p.shutdownCtx.Done():
			p.log.Debug("Shutdown signal received, retry worker exiting", zap.Int("retry_worker_id", id))
			return
		}
	}
}

func (p *Publisher) retryMessage(msg *sarama.ProducerMessage) {
	attempt, _ := msg.Metadata.(int)

	// DLQ messages are not retried again.
	if msg.Topic == p.dlqTopic {
		p.log.Error("Failed to deliver message to DLQ. Data lost.", zap.String("dlq_topic", p.dlqTopic))
		return
	}
	if attempt >= p.cfg.Retry.MaxRetries {
		p.log.Warn("Message exceeded max retry attempts. Sending to DLQ.",
			zap.String("topic", msg.Topic),
			zap.Int("retry_count", attempt),
		)
		p.sendToDLQ(msg)
		return
	}

	wait := backoff(p.cfg.Retry, attempt)
	if j := int64(wait / 10); j > 0 {
		wait += time.Duration(rand.Int63n(j))
	}
	p.log.Info("Retrying message",
		zap.String("topic", msg.Topic),
		zap.Int("attempt", attempt+1),
		zap.Duration("backoff", wait),
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		msg.Metadata = attempt + 1
		select {
		case p.producer.Input() <- msg:
			metrics.RetriesAttempted.Inc()
		default:
			p.log.Warn("Kafka producer input full during retry. Re-queuing.", zap.String("topic", msg.Topic))
			p.sendToRetryQueue(msg)
		}
	case <-p.shutdownCtx.Done():
		p.log.Info("Shutdown received during message retry, abandoning.", zap.String("topic", msg.Topic))
	}
}

func (p *Publisher) sendToDLQ(msg *sarama.ProducerMessage) {
	headers := append([]sarama.RecordHeader{
		{Key: []byte("original_topic"), Value: []byte(msg.Topic)},
		{Key: []byte("dlq_timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	}, msg.Headers...)

	dlq := &sarama.ProducerMessage{
		Topic:    p.dlqTopic,
		Key:      msg.Key,
		Value:    msg.Value,
		Headers:  headers,
		Metadata: msg.Metadata,
	}

	select {
	case p.producer.Input() <- dlq:
		metrics.DLQMessagesSent.Inc()
		p.log.Info("Message sent to DLQ",
			zap.String("dlq_topic", p.dlqTopic),
			zap.String("original_topic", msg.Topic),
		)
	default:
		p.log.Error("Kafka producer input channel full. Failed to send message to DLQ.",
			zap.String("dlq_topic", p.dlqTopic),
			zap.String("original_topic", msg.Topic),
		)
	}
}

// backoff is the exponential delay before the given retry attempt, capped at
// MaxBackoff.
func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt)))
	if d > cfg.MaxBackoff || d < 0 {
		d = cfg.MaxBackoff
	}
	return d
}
