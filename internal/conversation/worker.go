package conversation

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// InboundHandler processes one inbound message. *Machine implements it.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// Worker consumes queued inbound messages and hands them to the handler.
// Each conversation is pinned to one processing lane, so its messages are
// handled in receive order while different conversations run in parallel.
type Worker struct {
	handler InboundHandler
	queue   queueClient
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 4
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at 20s.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll, capped at 10.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewWorker(handler InboundHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{handler: handler, queue: queue, logger: logger, cfg: cfg}
}

// Start launches one receiver and the processing lanes. They stop when ctx
// is cancelled.
func (w *Worker) Start(ctx context.Context) {
	lanes := make([]chan laneJob, w.cfg.workers)
	for i := range lanes {
		lanes[i] = make(chan laneJob, w.cfg.receiveBatchSize)
		w.wg.Add(1)
		go w.runLane(ctx, i+1, lanes[i])
	}
	w.wg.Add(1)
	go w.receive(ctx, lanes)
}

// Wait blocks until every worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

type laneJob struct {
	msg queueMessage
	job inboundJob
}

// laneFor pins a conversation to one lane so its messages are handled in
// the order they were received.
func laneFor(conversationID string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return int(h.Sum32() % uint32(lanes))
}

func (w *Worker) receive(ctx context.Context, lanes []chan laneJob) {
	defer w.wg.Done()
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
	}()
	w.logger.Debug("conversation receiver started", "lanes", len(lanes))

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("conversation receiver stopping")
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound jobs", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			job, err := decodeJob(msg.Body)
			if err != nil {
				w.logger.Error("dropping undecodable inbound job", "error", err, "queue_message_id", msg.ID)
				w.deleteMessage(msg.ReceiptHandle)
				continue
			}
			select {
			case lanes[laneFor(job.Message.From, len(lanes))] <- laneJob{msg: msg, job: job}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runLane handles its jobs one at a time. Jobs still buffered at shutdown
// stay on the queue for redelivery.
func (w *Worker) runLane(ctx context.Context, laneID int, jobs <-chan laneJob) {
	defer w.wg.Done()
	for item := range jobs {
		if ctx.Err() != nil {
			continue
		}
		w.handleJob(ctx, laneID, item)
	}
}

// handleJob always removes the message from the queue. A turn that failed
// halfway has already spoken to the user, and replaying it would repeat
// those messages.
func (w *Worker) handleJob(ctx context.Context, laneID int, item laneJob) {
	defer w.deleteMessage(item.msg.ReceiptHandle)

	job := item.job
	w.logger.Info("processing inbound job",
		"job_id", job.ID,
		"lane", laneID,
		"channel", job.Message.Channel,
		"conversation_id", job.Message.From,
		"queued_for", time.Since(job.EnqueuedAt).String(),
	)
	if err := w.handler.HandleInbound(ctx, job.Message); err != nil {
		w.logger.Error("inbound job failed", "error", err, "job_id", job.ID, "conversation_id", job.Message.From)
	}
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound job", "error", err)
	}
}
