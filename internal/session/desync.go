package session

import "time"

// desyncGuard trips when more than threshold malformed frames arrive within
// window. Only the goroutine currently reading touches it.
type desyncGuard struct {
	threshold int
	window    time.Duration
	hits      []time.Time
}

func (g *desyncGuard) observe(now time.Time, err error) error {
	if g.threshold <= 0 {
		return nil
	}
	cutoff := now.Add(-g.window)
	kept := g.hits[:0]
	for _, t := range g.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.hits = append(kept, now)
	if len(g.hits) > g.threshold {
		return &DesyncError{Count: len(g.hits), Window: g.window, Last: err}
	}
	return nil
}
