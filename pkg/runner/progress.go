package runner

import (
	"regexp"
	"strconv"
	"sync"
)

// epochLine matches the per-epoch progress prefix printed by the training
// framework, e.g. "     3/299     7.27G   0.04461 ...". Epochs are zero-based
// on the wire.
var epochLine = regexp.MustCompile(`^\s*(\d+)/(\d+)\s`)

// progressTracker extracts epoch progress from launcher output lines.
type progressTracker struct {
	mu     sync.Mutex
	last   int
	total  int
	notify ProgressFunc
}

func newProgressTracker(notify ProgressFunc) *progressTracker {
	return &progressTracker{last: -1, notify: notify}
}

// Observe inspects one output line and records epoch progress if present.
func (p *progressTracker) Observe(line string) {
	m := epochLine.FindStringSubmatch(line)
	if m == nil {
		return
	}

	epoch, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	lastIdx, err := strconv.Atoi(m[2])
	if err != nil || lastIdx < epoch {
		return
	}

	p.mu.Lock()
	changed := epoch > p.last
	if changed {
		p.last = epoch
		p.total = lastIdx + 1
	}
	notify := p.notify
	total := p.total
	p.mu.Unlock()

	if changed && notify != nil {
		notify(epoch, total)
	}
}

// Last returns the highest epoch seen, or -1 if none.
func (p *progressTracker) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Total returns the total epoch count parsed from the output, 0 if unknown.
func (p *progressTracker) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
