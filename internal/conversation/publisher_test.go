package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

type stubQueue struct {
	sent []string
	err  error
}

func (s *stubQueue) Send(_ context.Context, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubQueue) Receive(context.Context, int, int) ([]queueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(context.Context, string) error { return nil }

func TestPublisherEnqueue(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	jobID, err := publisher.Enqueue(context.Background(), InboundMessage{ID: "wamid.9", From: "5841", Channel: ChannelGateway, Text: "hola"})
	if err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}
	job, err := decodeJob(queue.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != jobID {
		t.Fatalf("expected job id %s, got %s", jobID, job.ID)
	}
	if job.Kind != jobKindInbound {
		t.Fatalf("expected inbound kind, got %s", job.Kind)
	}
	if job.Message.Text != "hola" || job.Message.ID != "wamid.9" {
		t.Fatalf("unexpected message: %#v", job.Message)
	}
	if job.EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueue time to be set")
	}
}

func TestPublisherCarriesAudio(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, nil)

	if _, err := publisher.Enqueue(context.Background(), InboundMessage{From: "5841", IsAudio: true, Audio: []byte{0x4f, 0x67, 0x67}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := decodeJob(queue.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !job.Message.IsAudio || string(job.Message.Audio) != "Ogg" {
		t.Fatalf("audio lost in transit: %#v", job.Message)
	}
}

func TestPublisherErrors(t *testing.T) {
	publisher := NewPublisher(&stubQueue{err: errors.New("queue full")}, nil)
	if _, err := publisher.Enqueue(context.Background(), InboundMessage{From: "5841", Text: "hola"}); err == nil {
		t.Fatalf("expected queue error")
	}
	if _, err := publisher.Enqueue(context.Background(), InboundMessage{Text: "hola"}); err == nil {
		t.Fatalf("expected missing sender error")
	}
}
