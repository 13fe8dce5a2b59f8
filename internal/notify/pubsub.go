// Package notify publishes step completion events so downstream consumers
// (dbt triggers, alerting) can react without polling the warehouse.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/orchestrator"
)

// Publisher emits one Pub/Sub message per completed step. The full result is
// the message body; kind, month, step and status are duplicated as attributes
// so subscribers can filter without decoding.
type Publisher struct {
	topic *pubsub.Topic
	log   *zap.Logger
}

// NewPublisher verifies the topic exists and returns a Publisher.
func NewPublisher(ctx context.Context, client *pubsub.Client, topicID string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("topic %s does not exist", topicID)
	}
	return &Publisher{topic: topic, log: log}, nil
}

// StepCompleted publishes one result and waits for the server ack.
func (p *Publisher) StepCompleted(ctx context.Context, res orchestrator.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode step result: %w", err)
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   string(res.Kind),
			"month":  res.Month,
			"step":   string(res.Step),
			"status": string(res.Status),
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish step result: %w", err)
	}
	p.log.Debug("published step result",
		zap.String("message_id", id),
		zap.String("kind", string(res.Kind)),
		zap.String("month", res.Month),
		zap.String("step", string(res.Step)),
	)
	return nil
}

// Close flushes buffered messages.
func (p *Publisher) Close() {
	p.topic.Stop()
}
