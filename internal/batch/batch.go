// Package batch computes loop-continuation state for paginated processing.
//
// A Cursor is never stored: callers persist only their running tally of
// processed items and recompute the cursor from it, which lets a loop resume
// from a checkpoint after a crash.
package batch

import (
	"fmt"

	"github.com/book-expert/tts-uploader/internal/core"
)

// ErrInvalidInput is returned for counts that cannot describe a real loop.
var ErrInvalidInput = fmt.Errorf("batch: %w", core.ErrInvalidInput)

// maxPreallocWindows bounds the capacity Plan reserves up front.
const maxPreallocWindows = 1024

const (
	errFmtPageSize  = "%w: page size must be at least 1, got %d"
	errFmtTotal     = "%w: total items must be non-negative, got %d"
	errFmtProcessed = "%w: processed count %d outside [0, %d]"
)

// Cursor describes progress through a paginated loop.
type Cursor struct {
	TotalItems     int  `json:"totalItems"`
	PageSize       int  `json:"pageSize"`
	ProcessedSoFar int  `json:"processedSoFar"`
	CurrentBatch   int  `json:"currentBatch"`
	TotalBatches   int  `json:"totalBatches"`
	HasMore        bool `json:"hasMore"`
	NextStartIndex int  `json:"nextStartIndex"`
	Remaining      int  `json:"remaining"`
}

// Window is one batch of a Plan. End is exclusive.
type Window struct {
	Number int `json:"number"`
	Start  int `json:"start"`
	End    int `json:"end"`
	Count  int `json:"count"`
}

// Compute derives the cursor for processedSoFar items out of totalItems.
func Compute(totalItems, pageSize, processedSoFar int) (Cursor, error) {
	err := validate(totalItems, pageSize)
	if err != nil {
		return Cursor{}, err
	}

	if processedSoFar < 0 || processedSoFar > totalItems {
		return Cursor{}, fmt.Errorf(errFmtProcessed, ErrInvalidInput, processedSoFar, totalItems)
	}

	return Cursor{
		TotalItems:     totalItems,
		PageSize:       pageSize,
		ProcessedSoFar: processedSoFar,
		CurrentBatch:   ceilDiv(processedSoFar, pageSize),
		TotalBatches:   ceilDiv(totalItems, pageSize),
		HasMore:        processedSoFar < totalItems,
		NextStartIndex: processedSoFar,
		Remaining:      totalItems - processedSoFar,
	}, nil
}

// NextWindow returns the slice bounds of the batch that starts at
// NextStartIndex. start == end when nothing remains.
func (c Cursor) NextWindow() (start, end int) {
	start = c.NextStartIndex
	end = start + min(c.PageSize, c.TotalItems-start)

	return start, end
}

// Plan splits totalItems into contiguous batches numbered from 1.
func Plan(totalItems, pageSize int) ([]Window, error) {
	err := validate(totalItems, pageSize)
	if err != nil {
		return nil, err
	}

	windows := make([]Window, 0, min(ceilDiv(totalItems, pageSize), maxPreallocWindows))

	for start, end := 0, 0; start < totalItems; start = end {
		end = start + min(pageSize, totalItems-start)
		windows = append(windows, Window{
			Number: len(windows) + 1,
			Start:  start,
			End:    end,
			Count:  end - start,
		})
	}

	return windows, nil
}

func validate(totalItems, pageSize int) error {
	if pageSize < 1 {
		return fmt.Errorf(errFmtPageSize, ErrInvalidInput, pageSize)
	}

	if totalItems < 0 {
		return fmt.Errorf(errFmtTotal, ErrInvalidInput, totalItems)
	}

	return nil
}

// ceilDiv is integer ceiling division for a >= 0, b >= 1. It cannot overflow.
func ceilDiv(a, b int) int {
	quotient := a / b
	if a%b != 0 {
		quotient++
	}

	return quotient
}
