// Package worker provides a NATS worker that runs one narration batch per request.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/pipeline"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultHandleTimeout bounds the work done for one request.
const DefaultHandleTimeout = 10 * time.Minute

var (
	// ErrMissingScriptKey indicates a request without a script key.
	ErrMissingScriptKey = fmt.Errorf("worker: %w: scriptKey is required", core.ErrInvalidInput)
	// ErrNegativeStart indicates a request with a negative start index.
	ErrNegativeStart = fmt.Errorf("worker: %w: startIndex must be non-negative", core.ErrInvalidInput)
)

// BatchRequestedEvent asks the worker to run the batch of a stored script
// that starts at StartIndex.
type BatchRequestedEvent struct {
	Header     events.EventHeader `json:"header"`
	ScriptKey  string             `json:"scriptKey"`
	StartIndex int                `json:"startIndex"`
}

// BatchCompletedEvent is the reply to a BatchRequestedEvent. Cursor tells the
// caller where the next request should start.
type BatchCompletedEvent struct {
	Header    events.EventHeader    `json:"header"`
	ScriptKey string                `json:"scriptKey"`
	Cursor    batch.Cursor          `json:"cursor"`
	Results   []pipeline.ItemResult `json:"results"`
	Uploaded  int                   `json:"uploaded"`
	Failed    int                   `json:"failed"`
	Error     string                `json:"error,omitempty"`
	ErrorKind core.Kind             `json:"errorKind,omitempty"`
}

// BatchRunner runs a single batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, lines []script.Line, startIndex int) (pipeline.Report, error)
}

// NatsWorker listens for batch requests on a NATS subject and replies with
// the batch outcome.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	scripts        core.ObjectStore
	runner         BatchRunner
	log            *logger.Logger
	handleTimeout  time.Duration
}

// NewNatsWorker creates a new instance of a NATS worker. A zero handleTimeout
// means DefaultHandleTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	scripts core.ObjectStore,
	runner BatchRunner,
	log *logger.Logger,
	handleTimeout time.Duration,
) *NatsWorker {
	if handleTimeout <= 0 {
		handleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		scripts:        scripts,
		runner:         runner,
		log:            log,
		handleTimeout:  handleTimeout,
	}
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for batch requests on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.reply(msg, failureReply(events.EventHeader{}, "", err))

		return
	}

	reply := w.processBatch(ctx, event)
	w.reply(msg, reply)
}

func (w *NatsWorker) processBatch(ctx context.Context, event *BatchRequestedEvent) *BatchCompletedEvent {
	data, err := w.scripts.Download(ctx, event.ScriptKey)
	if err != nil {
		w.log.Error("Failed to download script '%s' for workflow %s: %v", event.ScriptKey, event.Header.WorkflowID, err)

		return failureReply(event.Header, event.ScriptKey, fmt.Errorf("failed to download script: %w", err))
	}

	lines, err := script.Parse(data)
	if err != nil {
		w.log.Error("Invalid script '%s' for workflow %s: %v", event.ScriptKey, event.Header.WorkflowID, err)

		return failureReply(event.Header, event.ScriptKey, err)
	}

	report, runErr := w.runner.RunBatch(ctx, lines, event.StartIndex)

	reply := &BatchCompletedEvent{
		Header:    replyHeader(event.Header),
		ScriptKey: event.ScriptKey,
		Cursor:    report.Cursor,
		Results:   report.Results,
		Uploaded:  report.Uploaded,
		Failed:    report.Failed,
	}

	if runErr != nil {
		w.log.Warn("Batch at %d for workflow %s stopped early: %v", event.StartIndex, event.Header.WorkflowID, runErr)
		reply.Error = runErr.Error()
		reply.ErrorKind = pipeline.FailureKind(runErr)

		if errors.Is(runErr, pipeline.ErrBatchAborted) && len(report.Results) > 0 {
			reply.ErrorKind = report.Results[len(report.Results)-1].Kind
		}
	}

	return reply
}

func (w *NatsWorker) reply(msg *nats.Msg, reply *BatchCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func parseAndValidateEvent(msg *nats.Msg) (*BatchRequestedEvent, error) {
	var event BatchRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w: %w", core.ErrInvalidInput, err)
	}

	if event.ScriptKey == "" {
		return nil, ErrMissingScriptKey
	}

	if event.StartIndex < 0 {
		return nil, ErrNegativeStart
	}

	return &event, nil
}

func failureReply(header events.EventHeader, scriptKey string, err error) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		Header:    replyHeader(header),
		ScriptKey: scriptKey,
		Error:     err.Error(),
		ErrorKind: pipeline.FailureKind(err),
	}
}

func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
