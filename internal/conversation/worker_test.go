package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []InboundMessage
	err      error
}

func (r *recordingHandler) HandleInbound(_ context.Context, msg InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type scriptedQueue struct {
	ch       chan queueMessage
	deleted  []string
	delMutex sync.Mutex
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{ch: make(chan queueMessage, 10)}
}

func (s *scriptedQueue) enqueue(msg queueMessage) {
	s.ch <- msg
}

func (s *scriptedQueue) Send(context.Context, string) error { return nil }

func (s *scriptedQueue) Receive(ctx context.Context, _ int, _ int) ([]queueMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return []queueMessage{msg}, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedQueue) Delete(_ context.Context, receiptHandle string) error {
	s.delMutex.Lock()
	s.deleted = append(s.deleted, receiptHandle)
	s.delMutex.Unlock()
	return nil
}

func (s *scriptedQueue) deletedHandles() []string {
	s.delMutex.Lock()
	defer s.delMutex.Unlock()
	return append([]string(nil), s.deleted...)
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWorkerProcessesInboundJobs(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{}
	worker := NewWorker(handler, queue, logging.New("error"), WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	_, body, err := encodeJob(inboundJob{Message: InboundMessage{ID: "wamid.1", From: "584121234567", Channel: ChannelGateway, Text: "hola"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	queue.enqueue(queueMessage{ID: "m-1", Body: body, ReceiptHandle: "rh-1"})

	waitFor(func() bool { return handler.count() > 0 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.messages[0].Text != "hola" || handler.messages[0].From != "584121234567" {
		t.Fatalf("unexpected message delivered: %#v", handler.messages[0])
	}
	if got := queue.deletedHandles(); len(got) != 1 || got[0] != "rh-1" {
		t.Fatalf("expected rh-1 to be deleted, got %#v", got)
	}
}

func TestWorkerDeletesFailedAndMalformedJobs(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{err: errors.New("send failed")}
	worker := NewWorker(handler, queue, logging.New("error"), WithWorkerCount(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	_, body, _ := encodeJob(inboundJob{Message: InboundMessage{From: "u1", Text: "hola"}})
	queue.enqueue(queueMessage{ID: "m-1", Body: "{not json", ReceiptHandle: "rh-bad"})
	queue.enqueue(queueMessage{ID: "m-2", Body: `{"kind":"payment"}`, ReceiptHandle: "rh-kind"})
	queue.enqueue(queueMessage{ID: "m-3", Body: body, ReceiptHandle: "rh-fail"})

	waitFor(func() bool { return len(queue.deletedHandles()) == 3 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 1 {
		t.Fatalf("expected only the valid job to reach the handler, got %d", handler.count())
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	worker := NewWorker(&recordingHandler{}, NewMemoryQueue(1), logging.New("error"), WithWorkerCount(3), WithReceiveWaitSeconds(0))
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestWorkerOptionsClamp(t *testing.T) {
	w := NewWorker(&recordingHandler{}, NewMemoryQueue(1), nil,
		WithWorkerCount(0),
		WithReceiveWaitSeconds(60),
		WithReceiveBatchSize(50),
	)
	if w.cfg.workers != defaultWorkerCount {
		t.Fatalf("expected default worker count, got %d", w.cfg.workers)
	}
	if w.cfg.receiveWaitSecs != maxWaitSeconds {
		t.Fatalf("expected wait capped at %d, got %d", maxWaitSeconds, w.cfg.receiveWaitSecs)
	}
	if w.cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("expected batch capped at %d, got %d", maxReceiveBatchSize, w.cfg.receiveBatchSize)
	}
}

func TestPublisherToWorkerThroughMemoryQueue(t *testing.T) {
	queue := NewMemoryQueue(8)
	handler := &recordingHandler{}
	publisher := NewPublisher(queue, logging.New("error"))
	worker := NewWorker(handler, queue, logging.New("error"), WithWorkerCount(2), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	for _, text := range []string{"uno", "dos", "tres"} {
		if _, err := publisher.Enqueue(ctx, InboundMessage{From: "u-" + text, Text: text}); err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
	}
	waitFor(func() bool { return handler.count() == 3 }, 2*time.Second, t)
	cancel()
	worker.Wait()
}

// slowFirstHandler stalls the first message it sees, giving a parallel
// consumer the chance to overtake it.
type slowFirstHandler struct {
	recordingHandler
	once sync.Once
}

func (s *slowFirstHandler) HandleInbound(ctx context.Context, msg InboundMessage) error {
	s.once.Do(func() { time.Sleep(50 * time.Millisecond) })
	return s.recordingHandler.HandleInbound(ctx, msg)
}

func TestWorkerKeepsPerConversationOrder(t *testing.T) {
	queue := NewMemoryQueue(16)
	handler := &slowFirstHandler{}
	publisher := NewPublisher(queue, logging.New("error"))
	worker := NewWorker(handler, queue, logging.New("error"), WithWorkerCount(4), WithReceiveBatchSize(10), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	texts := []string{"uno", "dos", "tres", "cuatro", "cinco", "seis"}
	for _, text := range texts {
		if _, err := publisher.Enqueue(ctx, InboundMessage{From: "584121234567", Text: text}); err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
	}
	worker.Start(ctx)

	waitFor(func() bool { return handler.count() == len(texts) }, 2*time.Second, t)
	cancel()
	worker.Wait()

	for i, msg := range handler.messages {
		if msg.Text != texts[i] {
			t.Fatalf("message %d out of order: got %q want %q", i, msg.Text, texts[i])
		}
	}
}

func TestLaneForIsStable(t *testing.T) {
	first := laneFor("webchat:abc", 4)
	for i := 0; i < 10; i++ {
		if got := laneFor("webchat:abc", 4); got != first {
			t.Fatalf("lane changed from %d to %d", first, got)
		}
	}
	if got := laneFor("anything", 1); got != 0 {
		t.Fatalf("single lane must be 0, got %d", got)
	}
}
