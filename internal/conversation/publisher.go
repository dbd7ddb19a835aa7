package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// Publisher hands inbound messages from the transports to the workers.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue queues msg for processing and returns the job id.
func (p *Publisher) Enqueue(ctx context.Context, msg InboundMessage) (string, error) {
	if strings.TrimSpace(msg.From) == "" {
		return "", errors.New("conversation: inbound message without sender")
	}
	job, body, err := encodeJob(inboundJob{Message: msg})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("conversation: enqueue inbound: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "job_id", job.ID, "channel", msg.Channel, "message_id", msg.ID)
	return job.ID, nil
}
