package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintenance job names
const (
	JobPurgeSessions = "purge_sessions"
	JobPurgeOutbox   = "purge_outbox"
	JobPurgeAudit    = "purge_audit"
	JobPruneLimiters = "prune_limiters"
)

const maintenanceJobTimeout = 5 * time.Minute

// LimiterPruner drops idle in-process rate limiters.
type LimiterPruner interface {
	Prune(idle time.Duration) int
}

type maintenanceJob struct {
	name string
	spec string
	run  func(ctx context.Context) (int64, error)
}

// MaintenanceService runs housekeeping jobs on cron schedules.
type MaintenanceService struct {
	cron   *cron.Cron
	jobs   map[string]maintenanceJob
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func NewMaintenanceService(cfg config.MaintenanceConfig, auth *AuthService, outbox *OutboxService, audit *AuditService, limiter LimiterPruner, logger *zap.Logger) *MaintenanceService {
	cl := cronLogger{log: logger.Sugar()}
	s := &MaintenanceService{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		jobs:   make(map[string]maintenanceJob),
		logger: logger,
	}

	s.add(JobPurgeSessions, cfg.SessionSpec, func(ctx context.Context) (int64, error) {
		return auth.PurgeSessions(ctx)
	})
	s.add(JobPurgeOutbox, cfg.OutboxSpec, func(ctx context.Context) (int64, error) {
		return outbox.CleanupProcessed(ctx, cfg.OutboxRetention)
	})
	s.add(JobPurgeAudit, cfg.AuditSpec, func(ctx context.Context) (int64, error) {
		return audit.Purge(ctx, cfg.AuditRetention)
	})
	if limiter != nil {
		s.add(JobPruneLimiters, cfg.LimiterSpec, func(context.Context) (int64, error) {
			return int64(limiter.Prune(cfg.LimiterIdle)), nil
		})
	}
	return s
}

func (s *MaintenanceService) add(name, spec string, run func(ctx context.Context) (int64, error)) {
	if spec == "" {
		return
	}
	s.jobs[name] = maintenanceJob{name: name, spec: spec, run: run}
}

// Jobs lists the scheduled job names.
func (s *MaintenanceService) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start schedules every job. An invalid spec fails before anything runs.
func (s *MaintenanceService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	for _, name := range s.Jobs() {
		job := s.jobs[name]
		if _, err := s.cron.AddFunc(job.spec, func() { s.execute(job) }); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", job.spec, job.name, err)
		}
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Maintenance scheduler started", zap.Strings("jobs", s.Jobs()))
	return nil
}

// Stop waits for running jobs to finish or ctx to end.
func (s *MaintenanceService) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Maintenance scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Maintenance scheduler stop timed out")
	}
}

// Run executes one job immediately.
func (s *MaintenanceService) Run(ctx context.Context, name string) (int64, error) {
	job, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown maintenance job %q", name)
	}
	return job.run(ctx)
}

func (s *MaintenanceService) execute(job maintenanceJob) {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobTimeout)
	defer cancel()

	start := time.Now()
	n, err := job.run(ctx)
	if err != nil {
		s.logger.Error("Maintenance job failed", zap.String("job", job.name), zap.Error(err))
		return
	}
	s.logger.Info("Maintenance job completed",
		zap.String("job", job.name),
		zap.Int64("removed", n),
		zap.Duration("duration", time.Since(start)))
}
