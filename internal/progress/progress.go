// Package progress renders terminal progress bars for long-running runs.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// Tracker wraps a progress bar.
type Tracker struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	label string
	w     io.Writer
}

func newBar(w io.Writer, label string, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Attach returns a context carrying an analyzer.Tracker that drives a bar
// on w, one step per finished batch. The bar is created on the first batch,
// once the total is known.
func Attach(ctx context.Context, w io.Writer, label string) (context.Context, *Tracker) {
	t := &Tracker{label: label, w: w}
	at := analyzer.NewTracker(t.observe)
	return analyzer.WithTracker(ctx, at), t
}

func (t *Tracker) observe(index, total int, status models.BatchStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		t.bar = newBar(t.w, t.label, total)
	}
	t.bar.Describe(fmt.Sprintf("%s (batch %d/%d %s)", t.label, index+1, total, status))
	_ = t.bar.Add(1)
}

func (t *Tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		_ = t.bar.Finish()
		_ = t.bar.Clear()
	}
}

// FinishSuccess clears the bar completely (no output).
func (t *Tracker) FinishSuccess() {
	t.clear()
}

// FinishSkipped clears the bar and prints a skip message.
func (t *Tracker) FinishSkipped(reason string) {
	t.clear()
	fmt.Fprintf(t.w, "  %s skipped (%s)\n", t.label, reason)
}

// FinishError clears the bar and prints an error message.
func (t *Tracker) FinishError(err error) {
	t.clear()
	fmt.Fprintf(t.w, "  %s error: %v\n", t.label, err)
}
