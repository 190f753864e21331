// Package pipeline drives the batch loop: for every line of a batch it
// resolves the voice, synthesizes audio, optionally stages it, and uploads it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/objectstore"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/book-expert/tts-uploader/internal/voice"
)

const defaultExtension = ".mp3"

var (
	// ErrMissingDependency is returned by NewRunner when a required collaborator is nil.
	ErrMissingDependency = errors.New("pipeline: missing dependency")
	// ErrBatchAborted is returned when an item fails and ContinueOnError is off.
	ErrBatchAborted = errors.New("batch aborted")
)

// Status is the final state of one item.
type Status string

// Item statuses.
const (
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Options tunes a Runner.
type Options struct {
	PageSize             int
	DelayBetweenRequests time.Duration
	DelayBetweenBatches  time.Duration
	// ContinueOnError records a failed item and moves on instead of aborting.
	ContinueOnError bool
	OutputPrefix    string
	// Extension is appended to staged keys and upload file names.
	Extension string
}

// Dependencies are the collaborators of a Runner. Stage and Observer are optional.
type Dependencies struct {
	Synthesizer core.Synthesizer
	Uploader    core.Uploader
	Resolver    *voice.Resolver
	Stage       core.ObjectStore
	Observer    Observer
}

// ItemResult describes what happened to one line.
type ItemResult struct {
	Index      int         `json:"index"`
	Row        int         `json:"row"`
	Speaker    string      `json:"speaker"`
	OutputName string      `json:"outputName"`
	VoiceID    string      `json:"voiceId,omitempty"`
	Status     Status      `json:"status"`
	Asset      *core.Asset `json:"asset,omitempty"`
	StagedKey  string      `json:"stagedKey,omitempty"`
	Kind       core.Kind   `json:"errorKind,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Report summarizes one or more batches.
type Report struct {
	Cursor   batch.Cursor `json:"cursor"`
	Results  []ItemResult `json:"results"`
	Uploaded int          `json:"uploaded"`
	Failed   int          `json:"failed"`
	Batches  int          `json:"batches"`
}

func (r *Report) add(result ItemResult) {
	r.Results = append(r.Results, result)

	if result.Status == StatusUploaded {
		r.Uploaded++
	} else {
		r.Failed++
	}
}

// Runner processes script lines in batches.
type Runner struct {
	deps Dependencies
	opts Options
}

// NewRunner validates its inputs and builds a Runner.
func NewRunner(deps Dependencies, opts Options) (*Runner, error) {
	switch {
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("%w: synthesizer", ErrMissingDependency)
	case deps.Uploader == nil:
		return nil, fmt.Errorf("%w: uploader", ErrMissingDependency)
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: voice resolver", ErrMissingDependency)
	}

	if opts.PageSize < 1 {
		return nil, fmt.Errorf("%w: page size %d", batch.ErrInvalidInput, opts.PageSize)
	}

	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	if opts.Extension == "" {
		opts.Extension = defaultExtension
	}

	return &Runner{deps: deps, opts: opts}, nil
}

// RunBatch processes the batch that starts at startIndex. The returned cursor
// counts every attempted item as processed, except the item that aborted the
// batch, so resuming from NextStartIndex retries it. A non-nil error is
// returned only for invalid input, cancellation, or an aborted batch; the
// report is valid in the latter two cases.
func (r *Runner) RunBatch(ctx context.Context, lines []script.Line, startIndex int) (Report, error) {
	cursor, err := batch.Compute(len(lines), r.opts.PageSize, startIndex)
	if err != nil {
		return Report{}, err
	}

	report := Report{Cursor: cursor, Batches: 1}
	start, end := cursor.NextWindow()

	for index := start; index < end; index++ {
		if index > start {
			err = sleep(ctx, r.opts.DelayBetweenRequests)
			if err != nil {
				return r.finish(report, len(lines), index, err)
			}
		}

		result := r.processItem(ctx, index, lines[index])
		report.add(result)

		if result.Status == StatusUploaded {
			r.deps.Observer.ItemUploaded(result)

			continue
		}

		r.deps.Observer.ItemFailed(result)

		if ctx.Err() != nil {
			return r.finish(report, len(lines), index, ctx.Err())
		}

		if !r.opts.ContinueOnError {
			return r.finish(report, len(lines), index,
				fmt.Errorf("%w at item %d: %s", ErrBatchAborted, index, result.Error))
		}
	}

	return r.finish(report, len(lines), end, nil)
}

// RunAll processes batches from startIndex until none remain, pausing
// DelayBetweenBatches between them.
func (r *Runner) RunAll(ctx context.Context, lines []script.Line, startIndex int) (Report, error) {
	var total Report

	next := startIndex

	for {
		report, err := r.RunBatch(ctx, lines, next)
		total.Results = append(total.Results, report.Results...)
		total.Uploaded += report.Uploaded
		total.Failed += report.Failed
		total.Batches += report.Batches
		total.Cursor = report.Cursor

		if err != nil {
			return total, err
		}

		if !report.Cursor.HasMore {
			return total, nil
		}

		next = report.Cursor.NextStartIndex

		err = sleep(ctx, r.opts.DelayBetweenBatches)
		if err != nil {
			return total, err
		}
	}
}

func (r *Runner) finish(report Report, total, processed int, cause error) (Report, error) {
	cursor, err := batch.Compute(total, r.opts.PageSize, processed)
	if err != nil {
		return report, err
	}

	report.Cursor = cursor
	r.deps.Observer.BatchCompleted(cursor, report.Uploaded, report.Failed)

	return report, cause
}

func (r *Runner) processItem(ctx context.Context, index int, line script.Line) ItemResult {
	result := ItemResult{
		Index:      index,
		Row:        line.Row,
		Speaker:    line.Speaker,
		OutputName: script.OutputName(r.opts.OutputPrefix, line.FileName),
	}

	voiceID, err := r.deps.Resolver.Resolve(line)
	if err != nil {
		return failed(result, err)
	}

	result.VoiceID = voiceID

	audio, err := r.deps.Synthesizer.Synthesize(ctx, core.SpeechRequest{VoiceID: voiceID, Text: line.Text})
	if err != nil {
		return failed(result, fmt.Errorf("synthesize: %w", err))
	}

	r.deps.Observer.ItemSynthesized(index, line, len(audio))

	if r.deps.Stage != nil {
		key := objectstore.AudioKey(result.OutputName, r.opts.Extension)

		err = r.deps.Stage.Upload(ctx, key, audio)
		if err != nil {
			return failed(result, fmt.Errorf("stage: %w", err))
		}

		result.StagedKey = key
	}

	asset, err := r.deps.Uploader.Upload(ctx, core.UploadRequest{
		Name:     result.OutputName,
		FileName: result.OutputName + r.opts.Extension,
		Data:     audio,
	})
	if err != nil {
		return failed(result, fmt.Errorf("upload: %w", err))
	}

	result.Status = StatusUploaded
	result.Asset = &asset

	return result
}

func failed(result ItemResult, err error) ItemResult {
	result.Status = StatusFailed
	result.Kind = FailureKind(err)
	result.Error = err.Error()

	return result
}

// FailureKind classifies err for reporting. Errors outside the provider
// taxonomy, such as staging or cancellation failures, count as transient.
func FailureKind(err error) core.Kind {
	kind := core.KindOf(err)
	if kind == core.KindNone {
		return core.KindProviderTransient
	}

	return kind
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
