package main

import (
	"fmt"
	"io"
	"sync"
)

// plainReporter writes one line per stage and per tenth of a download,
// for logs and terminals without cursor control.
type plainReporter struct {
	w io.Writer

	mu       sync.Mutex
	lastStep int
}

func newPlainReporter(w io.Writer) *plainReporter {
	if w == nil {
		w = io.Discard
	}
	return &plainReporter{w: w, lastStep: -1}
}

func (r *plainReporter) Stage(stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStep = -1
	if detail == "" {
		_, _ = fmt.Fprintf(r.w, "%s...\n", stage)
		return
	}
	_, _ = fmt.Fprintf(r.w, "%s: %s\n", stage, detail)
}

func (r *plainReporter) Progress(received, total int64) {
	if total <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	step := int(received * 10 / total)
	if step <= r.lastStep {
		return
	}
	r.lastStep = step
	_, _ = fmt.Fprintf(r.w, "  %3d%%  %s / %s\n", step*10, formatBytes(received), formatBytes(total))
}

func (r *plainReporter) Stop() {}
