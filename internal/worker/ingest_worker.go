// Package worker consumes ingestion jobs from RabbitMQ.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/platform/rabbitmq"
)

var errEmptyDocumentID = errors.New("job has no document id")

// JobRunner processes one document. The ingest pipeline satisfies it.
type JobRunner interface {
	Run(ctx context.Context, documentID uuid.UUID) error
}

type IngestWorker struct {
	conn        *amqp.Connection
	runner      JobRunner
	queueName   string
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, runner JobRunner, queueName string, concurrency int, logger *slog.Logger) *IngestWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:        conn,
		runner:      runner,
		queueName:   queueName,
		concurrency: concurrency,
		logger:      logger.With("component", "ingest_worker"),
	}
}

// Start opens one channel per consumer, each with a prefetch of one, so a
// slow document never holds back jobs another consumer could take.
func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.concurrency; i++ {
		deliveries, ch, err := w.consume(i)
		if err != nil {
			cancel()
			w.wg.Wait()
			w.cancel = nil
			return err
		}

		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			defer ch.Close()
			w.loop(workerCtx, id, deliveries)
		}(i)
	}

	w.logger.Info("ingest worker started", "queue", w.queueName, "consumers", w.concurrency)
	return nil
}

func (w *IngestWorker) consume(id int) (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := w.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		fmt.Sprintf("ingest-%d", id),
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume queue failed: %w", err)
	}
	return deliveries, ch, nil
}

func (w *IngestWorker) loop(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	log := w.logger.With("consumer", id)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			if w.handle(ctx, d.Body) {
				_ = d.Ack(false)
			} else {
				_ = d.Nack(false, false)
			}
		}
	}
}

// handle runs one job and reports whether the delivery should be acked.
// Failures after decoding are recorded on the document itself, and jobs that
// never ran leave the document queued for the sweeper, so only undecodable
// payloads are rejected. A started job runs to completion even when the
// worker is closing; client timeouts bound each step.
func (w *IngestWorker) handle(ctx context.Context, body []byte) bool {
	job, err := decodeJob(body)
	if err != nil {
		w.logger.Error("decode ingestion job failed", "error", err)
		return false
	}
	if err := w.runner.Run(context.WithoutCancel(ctx), job.DocumentID); err != nil {
		w.logger.Error("ingestion job failed", "document_id", job.DocumentID, "error", err)
	}
	return true
}

func decodeJob(body []byte) (rabbitmq.DocumentJob, error) {
	var job rabbitmq.DocumentJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, err
	}
	if job.DocumentID == uuid.Nil {
		return job, errEmptyDocumentID
	}
	return job, nil
}

// Close stops the consumers from taking new deliveries and waits for
// in-flight jobs to finish.
func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
