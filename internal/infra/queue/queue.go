// Package queue hands created task ids to whoever runs the identification
// worker. Hosted deployments trigger the worker server-side, so their
// queue is a no-op; self-hosted ones publish to NATS JetStream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const StreamName = "CROP_IDENTIFY"

type Config struct {
	URL           string
	Name          string
	Subject       string
	MaxReconnects int
}

type natsQueue struct {
	js      nats.JetStreamContext
	subject string
}

func NewNATSQueue(cfg Config) (*natsQueue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{cfg.Subject},
		Storage:  nats.FileStorage,
		Replicas: 1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	return &natsQueue{js: js, subject: cfg.Subject}, nil
}

func (q *natsQueue) Enqueue(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.New("enqueue: empty task id")
	}

	msg := &nats.Msg{
		Subject: q.subject,
		Data:    []byte(taskID),
	}

	ack, err := q.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish task %s to %s: %w", taskID, q.subject, err)
	}

	slog.Debug("identification task queued",
		slog.String("task_id", taskID),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}

// Webhook is the hosted-mode queue: the record insert already triggered
// the worker, there is nothing left to publish.
type Webhook struct{}

func (Webhook) Enqueue(ctx context.Context, taskID string) error {
	slog.Debug("task handed to backend webhook", slog.String("task_id", taskID))
	return nil
}
