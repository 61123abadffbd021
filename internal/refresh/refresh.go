// Package refresh periodically re-fetches the conversation list on a cron
// schedule, so the list stays current for conversations whose live channel is
// not open.
package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Handler is the callback invoked when a refresh fires.
type Handler func(ctx context.Context)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Refresher fires a handler on a cron schedule until its context is done.
type Refresher struct {
	schedule string
	handler  Handler
	cron     *cron.Cron
}

// New creates a Refresher for the given cron schedule.
func New(schedule string, handler Handler) *Refresher {
	return &Refresher{
		schedule: schedule,
		handler:  handler,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the schedule and starts the cron ticker. The handler
// receives ctx on every firing; firings after ctx is done are dropped.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("cron firing refresh", "schedule", r.schedule)
		r.handler(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	slog.Info("scheduled refresh", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.cron.Stop()
	}()
	return nil
}

// Stop stops the cron ticker.
func (r *Refresher) Stop() {
	r.cron.Stop()
}
