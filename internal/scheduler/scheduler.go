// Package scheduler drives unattended operation: periodic sync runs and a
// watchdog that alerts when the input directory stops receiving fresh
// exports.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Trigger starts a sync run; it reports an error when one is in flight.
type Trigger interface {
	Trigger(kind string) error
}

// Scheduler fires sync runs on a fixed interval.
type Scheduler struct {
	trigger  Trigger
	kind     string
	interval time.Duration
	log      zerolog.Logger
}

// New creates a scheduler. A non-positive interval disables it.
func New(trigger Trigger, kind string, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{trigger: trigger, kind: kind, interval: interval, log: log}
}

// Run blocks until ctx ends, triggering a run every interval. An overlapping
// run is logged and the tick is dropped.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.trigger.Trigger(s.kind); err != nil {
				s.log.Warn().Err(err).Msg("scheduled run skipped")
			}
		}
	}
}

// AlertSender delivers a watchdog notification.
type AlertSender interface {
	Send(subject, body string) error
}

// Watchdog checks the age of the newest input file and alerts once per
// stale period.
type Watchdog struct {
	dir     string
	maxAge  time.Duration
	sender  AlertSender
	log     zerolog.Logger
	alerted bool
}

// NewWatchdog creates a watchdog over the input directory.
func NewWatchdog(dir string, maxAge time.Duration, sender AlertSender, log zerolog.Logger) *Watchdog {
	return &Watchdog{dir: dir, maxAge: maxAge, sender: sender, log: log}
}

// ErrNoInputFiles is reported when the input directory holds no files at all.
var ErrNoInputFiles = errors.New("input directory holds no files")

// newestInput returns the modification time of the newest regular file.
func (w *Watchdog) newestInput() (time.Time, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return time.Time{}, err
	}
	var newest time.Time
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = true
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !found {
		return time.Time{}, ErrNoInputFiles
	}
	return newest, nil
}

// Check alerts when the newest input file is older than maxAge. The alert
// fires once; it rearms after fresh data arrives.
func (w *Watchdog) Check(now time.Time) error {
	newest, err := w.newestInput()
	if err != nil {
		return err
	}
	age := now.Sub(newest)
	if age <= w.maxAge {
		w.alerted = false
		return nil
	}
	if w.alerted {
		return nil
	}
	subject := "stale biobank input data"
	body := fmt.Sprintf("The newest file under %s is %s old (threshold %s). The upstream export may have stopped.",
		filepath.Clean(w.dir), age.Round(time.Minute), w.maxAge)
	if err := w.sender.Send(subject, body); err != nil {
		return fmt.Errorf("send stale-input alert: %w", err)
	}
	w.alerted = true
	w.log.Warn().Dur("age", age).Msg("stale input alert sent")
	return nil
}

// Run blocks until ctx ends, checking the input directory every interval.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Check(time.Now()); err != nil {
				w.log.Error().Err(err).Msg("input watchdog check failed")
			}
		}
	}
}
