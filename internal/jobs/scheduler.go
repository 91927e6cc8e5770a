// Package jobs runs the periodic queue drain, mirror sweep and duplicate cleanup.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/fieldsync"
	"github.com/ukydev/fleet-fieldsync/internal/notify"
)

// Schedules use the six-field format with seconds, e.g. "0 */5 * * * *".
const (
	DefaultDrainSchedule   = "0 */5 * * * *"
	DefaultMirrorSchedule  = "0 */15 * * * *"
	DefaultCleanupSchedule = "0 30 2 * * *"
)

// Drainer drains queued field records.
type Drainer interface {
	SyncAll(ctx context.Context, userID string) (fieldsync.Result, error)
	SyncEveryone(ctx context.Context) (fieldsync.Result, error)
}

// Mirrorer retries pending spreadsheet writes.
type Mirrorer interface {
	MirrorPending(ctx context.Context, limit int64) (fieldsync.MirrorResult, error)
}

// DuplicateCleaner removes duplicated fuel records.
type DuplicateCleaner interface {
	Cleanup(ctx context.Context, r *db.DateRange) (int, error)
}

// Config selects which jobs run and when. An empty schedule disables that job.
type Config struct {
	DrainSchedule   string
	MirrorSchedule  string
	CleanupSchedule string
	// DeviceUserID limits the drain to one user; empty drains every queue owner.
	DeviceUserID string
	MirrorBatch  int64
	JobTimeout   time.Duration
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron      *cron.Cron
	cfg       Config
	drainer   Drainer
	mirrorer  Mirrorer
	cleaner   DuplicateCleaner
	publisher notify.Publisher
	entries   map[string]cron.EntryID
}

// NewScheduler creates a scheduler. Any of drainer, mirrorer, cleaner may be nil.
func NewScheduler(cfg Config, drainer Drainer, mirrorer Mirrorer, cleaner DuplicateCleaner, publisher notify.Publisher) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	cronLogger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		cfg:       cfg,
		drainer:   drainer,
		mirrorer:  mirrorer,
		cleaner:   cleaner,
		publisher: publisher,
		entries:   make(map[string]cron.EntryID),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		enabled  bool
		run      func()
	}{
		{"drain", s.cfg.DrainSchedule, s.drainer != nil, s.RunDrain},
		{"mirror", s.cfg.MirrorSchedule, s.mirrorer != nil, s.RunMirror},
		{"cleanup", s.cfg.CleanupSchedule, s.cleaner != nil, s.RunCleanup},
	}
	for _, j := range jobs {
		if j.schedule == "" || !j.enabled {
			continue
		}
		id, err := s.cron.AddFunc(j.schedule, j.run)
		if err != nil {
			return fmt.Errorf("error scheduling %s job: %w", j.name, err)
		}
		s.entries[j.name] = id
		log.WithFields(log.Fields{"job": j.name, "schedule": j.schedule}).Info("Job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Job scheduler stopped")
}

// Scheduled returns the names of registered jobs.
func (s *Scheduler) Scheduled() []string {
	var names []string
	for _, name := range []string{"drain", "mirror", "cleanup"} {
		if _, ok := s.entries[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// RunDrain drains the device user's queue, or every queue when none is set.
func (s *Scheduler) RunDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	var (
		res fieldsync.Result
		err error
	)
	if s.cfg.DeviceUserID != "" {
		res, err = s.drainer.SyncAll(ctx, s.cfg.DeviceUserID)
	} else {
		res, err = s.drainer.SyncEveryone(ctx)
	}
	if err != nil {
		log.WithError(err).Error("Scheduled drain failed")
		return
	}
	log.WithFields(log.Fields{"synced": res.Synced, "failed": res.Failed}).Debug("Scheduled drain finished")
}

// RunMirror retries pending spreadsheet writes.
func (s *Scheduler) RunMirror() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	res, err := s.mirrorer.MirrorPending(ctx, s.cfg.MirrorBatch)
	if err != nil {
		log.WithError(err).Error("Scheduled mirror sweep failed")
		return
	}
	log.WithFields(log.Fields{"mirrored": res.Mirrored, "failed": res.Failed}).Debug("Scheduled mirror sweep finished")
}

// RunCleanup removes duplicates over the cleaner's default range.
func (s *Scheduler) RunCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	deleted, err := s.cleaner.Cleanup(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Scheduled duplicate cleanup failed")
		return
	}
	if err := s.publisher.Publish(ctx, notify.Event{
		Kind:   notify.KindCleanup,
		Counts: map[string]int{"deleted": deleted},
	}); err != nil {
		log.WithError(err).Debug("Failed to publish cleanup event")
	}
}
