package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/pipeline"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/book-expert/tts-uploader/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	narratorVoice = "21m00Tcm4TlvDq8ikWAM"
	guestVoice    = "AZnzlk1XvdvUeBnXmlld"
)

var errStageDown = errors.New("stage down")

type fakeSynthesizer struct {
	mu       sync.Mutex
	requests []core.SpeechRequest
	// failText makes requests with this text fail with failErr.
	failText string
	failErr  error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req core.SpeechRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if req.Text == f.failText {
		return nil, f.failErr
	}

	return []byte("audio:" + req.Text), nil
}

type fakeUploader struct {
	mu       sync.Mutex
	requests []core.UploadRequest
}

func (f *fakeUploader) Upload(_ context.Context, req core.UploadRequest) (core.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	return core.Asset{
		PublicID:  req.Name,
		SecureURL: "https://media.test/" + req.FileName,
		Bytes:     int64(len(req.Data)),
	}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (f *fakeStore) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.objects[key], nil
}

func (f *fakeStore) Upload(_ context.Context, key string, data []byte) error {
	if f.fail {
		return errStageDown
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.objects == nil {
		f.objects = map[string][]byte{}
	}

	f.objects[key] = data

	return nil
}

type recordingObserver struct {
	synthesized []int
	uploaded    []int
	failed      []pipeline.ItemResult
	batches     []batch.Cursor
}

func (o *recordingObserver) ItemSynthesized(index int, _ script.Line, _ int) {
	o.synthesized = append(o.synthesized, index)
}

func (o *recordingObserver) ItemUploaded(result pipeline.ItemResult) {
	o.uploaded = append(o.uploaded, result.Index)
}

func (o *recordingObserver) ItemFailed(result pipeline.ItemResult) {
	o.failed = append(o.failed, result)
}

func (o *recordingObserver) BatchCompleted(cursor batch.Cursor, _, _ int) {
	o.batches = append(o.batches, cursor)
}

func makeLines(count int) []script.Line {
	lines := make([]script.Line, 0, count)

	for i := range count {
		speaker := "narrator"
		if i%2 == 1 {
			speaker = "guest"
		}

		lines = append(lines, script.Line{
			Row:      i + 1,
			Speaker:  speaker,
			FileName: fmt.Sprintf("line_%03d", i+1),
			Text:     fmt.Sprintf("text %d", i),
		})
	}

	return lines
}

type fixture struct {
	synth    *fakeSynthesizer
	uploader *fakeUploader
	observer *recordingObserver
	runner   *pipeline.Runner
}

func newFixture(t *testing.T, opts pipeline.Options, stage core.ObjectStore) *fixture {
	t.Helper()

	resolver, err := voice.NewResolver(map[string]string{
		"narrator": narratorVoice,
		"guest":    guestVoice,
	}, "")
	require.NoError(t, err)

	fix := &fixture{
		synth:    &fakeSynthesizer{},
		uploader: &fakeUploader{},
		observer: &recordingObserver{},
	}

	fix.runner, err = pipeline.NewRunner(pipeline.Dependencies{
		Synthesizer: fix.synth,
		Uploader:    fix.uploader,
		Resolver:    resolver,
		Stage:       stage,
		Observer:    fix.observer,
	}, opts)
	require.NoError(t, err)

	return fix
}

func TestRunBatch_ProcessesOneWindow(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5, OutputPrefix: "ep1"}, nil)

	report, err := fix.runner.RunBatch(context.Background(), makeLines(12), 5)
	require.NoError(t, err)

	require.Len(t, report.Results, 5)
	assert.Equal(t, 5, report.Uploaded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 5, report.Results[0].Index)
	assert.Equal(t, "ep1_line_006", report.Results[0].OutputName)
	assert.Equal(t, guestVoice, report.Results[0].VoiceID)
	assert.Equal(t, "ep1_line_006.mp3", fix.uploader.requests[0].FileName)
	assert.Equal(t, []byte("audio:text 5"), fix.uploader.requests[0].Data)

	assert.Equal(t, 10, report.Cursor.NextStartIndex)
	assert.Equal(t, 2, report.Cursor.CurrentBatch)
	assert.True(t, report.Cursor.HasMore)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, fix.observer.uploaded)
	require.Len(t, fix.observer.batches, 1)
}

func TestRunBatch_ContinueOnErrorCountsFailedItems(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 4, ContinueOnError: true}, nil)
	fix.synth.failText = "text 1"
	fix.synth.failErr = &core.ProviderError{
		Provider:   "elevenlabs",
		StatusCode: 402,
		Kind:       core.KindProviderAuth,
		Message:    "quota exceeded",
	}

	report, err := fix.runner.RunBatch(context.Background(), makeLines(4), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Uploaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, pipeline.StatusFailed, report.Results[1].Status)
	assert.Equal(t, core.KindProviderAuth, report.Results[1].Kind)
	assert.Contains(t, report.Results[1].Error, "quota exceeded")
	assert.False(t, report.Cursor.HasMore)
	assert.Equal(t, 4, report.Cursor.NextStartIndex)
	require.Len(t, fix.observer.failed, 1)
}

func TestRunBatch_AbortLeavesFailedItemForResume(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5}, nil)
	fix.synth.failText = "text 7"
	fix.synth.failErr = &core.ProviderError{Provider: "elevenlabs", Kind: core.KindProviderTransient}

	report, err := fix.runner.RunBatch(context.Background(), makeLines(10), 5)
	require.ErrorIs(t, err, pipeline.ErrBatchAborted)

	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 7, report.Cursor.NextStartIndex)
	assert.True(t, report.Cursor.HasMore)
	assert.Len(t, fix.uploader.requests, 2)
}

func TestRunBatch_UnresolvedVoiceIsInvalidInput(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5, ContinueOnError: true}, nil)
	lines := makeLines(2)
	lines[0].Speaker = "stranger"

	report, err := fix.runner.RunBatch(context.Background(), lines, 0)
	require.NoError(t, err)
	assert.Equal(t, core.KindInvalidInput, report.Results[0].Kind)
	assert.Len(t, fix.synth.requests, 1)
}

func TestRunBatch_StagesAudio(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	fix := newFixture(t, pipeline.Options{PageSize: 2, Extension: ".pcm"}, store)

	report, err := fix.runner.RunBatch(context.Background(), makeLines(2), 0)
	require.NoError(t, err)

	assert.Equal(t, "audio/line_001.pcm", report.Results[0].StagedKey)
	assert.Equal(t, []byte("audio:text 0"), store.objects["audio/line_001.pcm"])
}

func TestRunBatch_StagingFailureIsTransient(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 2, ContinueOnError: true}, &fakeStore{fail: true})

	report, err := fix.runner.RunBatch(context.Background(), makeLines(1), 0)
	require.NoError(t, err)
	assert.Equal(t, core.KindProviderTransient, report.Results[0].Kind)
	assert.Empty(t, fix.uploader.requests)
}

func TestRunBatch_InvalidStart(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5}, nil)

	_, err := fix.runner.RunBatch(context.Background(), makeLines(3), 4)
	require.ErrorIs(t, err, batch.ErrInvalidInput)
}

func TestRunBatch_CanceledDuringDelay(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5, DelayBetweenRequests: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := fix.runner.RunBatch(ctx, makeLines(5), 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Cursor.NextStartIndex)
}

func TestRunAll_RunsUntilDone(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5}, nil)

	report, err := fix.runner.RunAll(context.Background(), makeLines(33), 0)
	require.NoError(t, err)

	assert.Equal(t, 7, report.Batches)
	assert.Equal(t, 33, report.Uploaded)
	assert.False(t, report.Cursor.HasMore)
	assert.Equal(t, 0, report.Cursor.Remaining)
	assert.Len(t, fix.observer.batches, 7)
	assert.Len(t, fix.observer.synthesized, 33)
}

func TestRunAll_ResumesFromStart(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, pipeline.Options{PageSize: 5}, nil)

	report, err := fix.runner.RunAll(context.Background(), makeLines(33), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 3, report.Uploaded)
}

func TestNewRunner_Validation(t *testing.T) {
	t.Parallel()

	resolver, err := voice.NewResolver(nil, narratorVoice)
	require.NoError(t, err)

	_, err = pipeline.NewRunner(pipeline.Dependencies{Uploader: &fakeUploader{}, Resolver: resolver},
		pipeline.Options{PageSize: 1})
	require.ErrorIs(t, err, pipeline.ErrMissingDependency)

	_, err = pipeline.NewRunner(pipeline.Dependencies{
		Synthesizer: &fakeSynthesizer{},
		Uploader:    &fakeUploader{},
		Resolver:    resolver,
	}, pipeline.Options{PageSize: 0})
	require.ErrorIs(t, err, batch.ErrInvalidInput)
}

func TestFailureKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, core.KindProviderTransient, pipeline.FailureKind(errors.New("boom")))
	assert.Equal(t, core.KindMalformedResponse, pipeline.FailureKind(fmt.Errorf("wrapped: %w",
		&core.ProviderError{Kind: core.KindMalformedResponse})))
}
