package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"inkwell/internal/ingest"
	"inkwell/internal/platform/rabbitmq"
)

type JobProcessor interface {
	Process(ctx context.Context, job ingest.Job) error
}

// IngestWorker consumes ingest jobs. Every delivery is acked once handled; jobs that
// cannot be decoded or processed are nacked without requeue.
type IngestWorker struct {
	conn      *amqp.Connection
	processor JobProcessor
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, processor JobProcessor, queueName string, logger *zap.Logger) *IngestWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestWorker{
		conn:      conn,
		processor: processor,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}
	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.run(ctx, deliveries, func() { _ = ch.Close() })
	return nil
}

func (w *IngestWorker) run(ctx context.Context, deliveries <-chan amqp.Delivery, onStop func()) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if onStop != nil {
			defer onStop()
		}
		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job ingest.Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.DocumentID == "" || job.TenantID == "" {
		w.logger.Error("worker decode ingest job failed", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	err := w.processor.Process(ctx, job)
	switch {
	case err == nil, errors.Is(err, ingest.ErrDocumentNotFound):
		_ = d.Ack(false)
	default:
		w.logger.Error("worker process ingest job failed", zap.String("document_id", job.DocumentID), zap.Error(err))
		_ = d.Nack(false, false)
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
