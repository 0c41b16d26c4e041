// Package idle implements the Idle Monitor of spec.md §4.8: detects when
// an in-progress task has gone quiet — no chat turns, no filesystem
// activity, no subprocess output — for longer than a configured
// threshold, and emits a single nudge per idle window.
package idle

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultThreshold is the default idle window before a nudge fires.
// Zero disables the monitor entirely, per spec.md §4.8.
const DefaultThreshold = 600 * time.Second

// Monitor watches a workspace directory tree and a stream of activity
// signals, resetting an idle timer on each, and emits at most one nudge
// per idle window on the Nudges channel.
type Monitor struct {
	Threshold time.Duration
	Nudges    chan struct{}
	// WatchErrors surfaces fsnotify plumbing errors (e.g. an inotify
	// instance limit) for the caller's own display/log adapter to report.
	WatchErrors chan error

	watcher *fsnotify.Watcher
	reset   chan struct{}
}

// New creates a Monitor that watches no directory yet: call AddDir for
// every directory worth watching (watches are not recursive).
// threshold <= 0 means the monitor is a no-op (spec.md §4.8 "0 disables").
func New(threshold time.Duration) (*Monitor, error) {
	m := &Monitor{
		Threshold:   threshold,
		Nudges:      make(chan struct{}, 1),
		WatchErrors: make(chan error, 1),
		reset:       make(chan struct{}, 8),
	}
	if threshold <= 0 {
		return m, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	m.watcher = w
	return m, nil
}

// AddDir registers dir for filesystem-change notifications. A no-op when
// the monitor is disabled.
func (m *Monitor) AddDir(dir string) error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Add(dir)
}

// Touch resets the idle timer, signaling activity of any kind: an
// inbound or outbound chat message, or subprocess output.
func (m *Monitor) Touch() {
	if m.Threshold <= 0 {
		return
	}
	select {
	case m.reset <- struct{}{}:
	default:
	}
}

// Run blocks, watching for activity and filesystem events, firing at most
// one value on Nudges per idle window, until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	if m.Threshold <= 0 {
		return
	}
	defer func() {
		if m.watcher != nil {
			m.watcher.Close()
		}
	}()

	timer := time.NewTimer(m.Threshold)
	defer timer.Stop()
	nudged := false

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if m.watcher != nil {
		fsEvents = m.watcher.Events
		fsErrors = m.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reset:
			nudged = false
			resetTimer(timer, m.Threshold)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			_ = ev
			nudged = false
			resetTimer(timer, m.Threshold)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			select {
			case m.WatchErrors <- err:
			default:
			}
		case <-timer.C:
			if !nudged {
				nudged = true
				select {
				case m.Nudges <- struct{}{}:
				default:
				}
			}
			timer.Reset(m.Threshold)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
