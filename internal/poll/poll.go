// Package poll runs the daemon's periodic jobs: ticket reconciliation,
// roster refresh and the daily report.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Poller manages cron-scheduled background jobs. Every job is wrapped in
// SkipIfStillRunning: a tick that arrives while the previous one is still
// working is merged away, never stacked.
type Poller struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	logger *slog.Logger
}

// New creates a poller.
func New(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		jobs:   make(map[string]cron.EntryID),
		logger: logger,
	}
}

// Add registers a named job. schedule is a standard cron expression or a
// predefined one like "@every 1m".
func (p *Poller) Add(name, schedule string, job func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(cron.FuncJob(func() {
		job(context.Background())
	}))
	id, err := p.cron.AddJob(schedule, wrapped)
	if err != nil {
		return fmt.Errorf("poll: invalid schedule %q for %s: %w", schedule, name, err)
	}
	p.jobs[name] = id
	p.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// Start begins ticking. Blocks until the context is cancelled; running jobs
// finish before Start returns.
func (p *Poller) Start(ctx context.Context) error {
	p.cron.Start()
	p.logger.Info("poller started", "jobs", len(p.jobs))

	<-ctx.Done()
	stop := p.cron.Stop()
	<-stop.Done()
	p.logger.Info("poller stopped")
	return ctx.Err()
}

// JobCount returns the number of registered jobs.
func (p *Poller) JobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}
