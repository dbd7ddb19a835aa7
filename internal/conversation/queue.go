package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobKind string

const jobKindInbound jobKind = "inbound.v1"

// inboundJob is the queued envelope around one inbound chat message.
type inboundJob struct {
	ID         string         `json:"id"`
	Kind       jobKind        `json:"kind"`
	Message    InboundMessage `json:"message"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func encodeJob(job inboundJob) (inboundJob, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Kind == "" {
		job.Kind = jobKindInbound
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return inboundJob{}, "", fmt.Errorf("conversation: encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (inboundJob, error) {
	var job inboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return inboundJob{}, fmt.Errorf("conversation: decode job: %w", err)
	}
	if job.Kind != jobKindInbound {
		return inboundJob{}, fmt.Errorf("conversation: unknown job kind %q", job.Kind)
	}
	return job, nil
}
