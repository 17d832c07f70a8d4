package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/evalbench/internal/domain/model"
)

// Poller defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
)

// Fetcher reads the current progress; nil means no run was recorded.
type Fetcher func(ctx context.Context) (*model.RunProgress, error)

// Poller follows a run until it reaches a terminal status.
//
// Status transitions are delivered as soon as they are observed. Updates
// within the running status are coalesced: the latest one is delivered once
// the debounce window after the first pending update elapses.
type Poller struct {
	fetch    Fetcher
	interval time.Duration
	debounce time.Duration
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the re-poll interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDebounce sets the coalescing window for running updates.
func WithDebounce(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.debounce = d
		}
	}
}

// NewPoller returns a Poller reading through fetch.
func NewPoller(fetch Fetcher, opts ...PollerOption) *Poller {
	p := &Poller{fetch: fetch, interval: DefaultPollInterval, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until a terminal status, an error, or ctx is done. It returns nil
// after delivering the terminal update.
func (p *Poller) Run(ctx context.Context, onUpdate func(model.RunProgress)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		last    *model.RunProgress
		pending *model.RunProgress
		timer   *time.Timer
		fire    <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, fire, pending = nil, nil, nil
	}
	defer stopTimer()

	poll := func() (bool, error) {
		cur, err := p.fetch(ctx)
		if err != nil {
			return false, fmt.Errorf("poll progress: %w", err)
		}
		if cur == nil {
			return false, ErrNoProgress
		}
		if last == nil || cur.Status != last.Status {
			stopTimer()
			onUpdate(*cur)
			last = cur
			return cur.Status.Terminal(), nil
		}
		if *cur == *last || (pending != nil && *cur == *pending) {
			return false, nil
		}
		pending = cur
		if timer == nil {
			timer = time.NewTimer(p.debounce)
			fire = timer.C
		}
		return false, nil
	}

	done, err := poll()
	for !done && err == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err = poll()
		case <-fire:
			onUpdate(*pending)
			last = pending
			timer, fire, pending = nil, nil, nil
		}
	}
	return err
}
