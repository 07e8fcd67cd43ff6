package main

import (
	"io"
	"sync"

	"batchml/internal/estimator"

	"github.com/cheggaaa/pb/v3"
)

// progressBars shows one bar per trained family. A progress report of a new
// family finishes the previous bar.
type progressBars struct {
	mu     sync.Mutex
	out    io.Writer
	family estimator.Family
	bar    *pb.ProgressBar
}

func newProgressBars(out io.Writer) *progressBars {
	return &progressBars{out: out}
}

func (p *progressBars) Update(ev estimator.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || ev.Family != p.family {
		p.finishLocked()
		p.family = ev.Family
		p.bar = pb.Full.New(ev.Total)
		p.bar.SetWriter(p.out)
		p.bar.Set("prefix", ev.Family.DisplayName()+" ")
		p.bar.Start()
	}

	if ev.Total > 0 {
		p.bar.SetTotal(int64(ev.Total))
	}
	p.bar.SetCurrent(int64(ev.Step))
	if ev.Loss != 0 {
		p.bar.Set("suffix", " loss "+formatMetric(ev.Loss))
	}
}

func (p *progressBars) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressBars) finishLocked() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
