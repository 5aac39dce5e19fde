package ingest

import (
	"context"

	"inkwell/internal/platform/rabbitmq"
)

// QueuePublisher sends jobs to the ingest queue.
type QueuePublisher struct {
	pub *rabbitmq.Publisher
}

func NewQueuePublisher(pub *rabbitmq.Publisher) *QueuePublisher {
	return &QueuePublisher{pub: pub}
}

func (p *QueuePublisher) Publish(ctx context.Context, job Job) error {
	return p.pub.PublishJSON(ctx, job)
}
