package pipeline

import (
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/book-expert/tts-uploader/internal/script"
)

// Observer receives progress events from a Runner. Implementations must be
// safe for use by one runner goroutine at a time.
type Observer interface {
	ItemSynthesized(index int, line script.Line, audioBytes int)
	ItemUploaded(result ItemResult)
	ItemFailed(result ItemResult)
	BatchCompleted(cursor batch.Cursor, uploaded, failed int)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ItemSynthesized(int, script.Line, int) {}
func (NopObserver) ItemUploaded(ItemResult)               {}
func (NopObserver) ItemFailed(ItemResult)                 {}
func (NopObserver) BatchCompleted(batch.Cursor, int, int) {}

// LogObserver writes events to the service logger.
type LogObserver struct {
	log *logger.Logger
}

// NewLogObserver returns an observer backed by log.
func NewLogObserver(log *logger.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) ItemSynthesized(index int, line script.Line, audioBytes int) {
	o.log.Info("Synthesized item %d (row %d, speaker %s): %d bytes", index, line.Row, line.Speaker, audioBytes)
}

func (o *LogObserver) ItemUploaded(result ItemResult) {
	o.log.Info("Uploaded item %d as %s: %s", result.Index, result.Asset.PublicID, result.Asset.SecureURL)
}

func (o *LogObserver) ItemFailed(result ItemResult) {
	o.log.Error("Item %d (row %d) failed [%s]: %s", result.Index, result.Row, result.Kind, result.Error)
}

func (o *LogObserver) BatchCompleted(cursor batch.Cursor, uploaded, failed int) {
	o.log.System("Batch %d/%d done: %d uploaded, %d failed, %d remaining, next start %d",
		cursor.CurrentBatch, cursor.TotalBatches, uploaded, failed, cursor.Remaining, cursor.NextStartIndex)
}
