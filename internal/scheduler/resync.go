// Package scheduler re-runs assistant synchronization on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/assistant-bridge/internal/assistant"
	"github.com/robfig/cron/v3"
)

// Syncer brings the remote assistant in line with local artifacts.
type Syncer interface {
	EnsureAssistant(ctx context.Context, def assistant.Definition) (string, error)
}

// Publisher receives the id of the assistant after every successful sync.
type Publisher interface {
	Set(id string)
}

// DefinitionLoader reads the assistant definition fresh for each run, so that
// edits made while the server is up are picked up.
type DefinitionLoader func() (assistant.Definition, error)

// Resync periodically calls EnsureAssistant and publishes the resulting id.
type Resync struct {
	cron      *cron.Cron
	syncer    Syncer
	load      DefinitionLoader
	publisher Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler for a standard five-field cron expression or a
// descriptor such as "@hourly".
func New(schedule string, syncer Syncer, load DefinitionLoader, publisher Publisher, logger *slog.Logger) (*Resync, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cronLog := cronLogger{logger: logger}
	r := &Resync{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		syncer:    syncer,
		load:      load,
		publisher: publisher,
		logger:    logger,
		ctx:       context.Background(),
	}
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("parse resync schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins scheduling. Runs are cancelled when ctx is done.
func (r *Resync) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info("Assistant resync scheduler started", "entries", len(r.cron.Entries()))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop halts scheduling and waits for a running sync to finish.
func (r *Resync) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	<-r.cron.Stop().Done()
}

// RunOnce performs a single synchronization and publishes the id on success.
func (r *Resync) RunOnce(ctx context.Context) (string, error) {
	def, err := r.load()
	if err != nil {
		return "", fmt.Errorf("load assistant definition: %w", err)
	}
	id, err := r.syncer.EnsureAssistant(ctx, def)
	if err != nil {
		return "", err
	}
	r.publisher.Set(id)
	return id, nil
}

func (r *Resync) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	id, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("Scheduled assistant resync failed", "error", err)
		return
	}
	r.logger.Info("Scheduled assistant resync complete", "assistant_id", id)
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
