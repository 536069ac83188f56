// internal/scheduler/housekeeping.go
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/parley/internal/types"
)

// Housekeeping runs periodic maintenance jobs against the task store.
// Currently it logs queue depth per class so a stuck consumer is visible
// without a metrics stack.
type Housekeeping struct {
	tasks    types.TaskStore
	schedule string
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Housekeeping job with the given cron schedule, e.g.
// "@every 10m".
func New(tasks types.TaskStore, schedule string) *Housekeeping {
	return &Housekeeping{
		tasks:    tasks,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the stats job and begins the cron ticker.
func (h *Housekeeping) Start() error {
	if _, err := h.cron.AddFunc(h.schedule, h.logStats); err != nil {
		return err
	}
	h.cron.Start()
	slog.Info("housekeeping started", "schedule", h.schedule)
	return nil
}

// Stop stops the cron ticker and waits for a running job to finish.
func (h *Housekeeping) Stop() {
	<-h.cron.Stop().Done()
}

func (h *Housekeeping) logStats() {
	stats, err := h.tasks.TaskStats(context.Background())
	if err != nil {
		slog.Error("task stats failed", "error", err)
		return
	}
	for _, st := range stats {
		slog.Info("task queue stats", "class", st.Class, "status", string(st.Status), "count", st.Count)
	}
}
