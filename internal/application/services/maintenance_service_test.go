package services

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakePruner struct {
	idle time.Duration
}

func (p *fakePruner) Prune(idle time.Duration) int {
	p.idle = idle
	return 3
}

func maintenanceConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Enabled:     true,
		SessionSpec: "0 * * * *",
		AuditSpec:   "30 3 * * *",
		LimiterSpec: "*/10 * * * *",
		LimiterIdle: 15 * time.Minute,
	}
}

func TestMaintenanceJobs(t *testing.T) {
	svc := NewMaintenanceService(maintenanceConfig(), nil, nil, nil, &fakePruner{}, zap.NewNop())
	assert.Equal(t, []string{JobPruneLimiters, JobPurgeAudit, JobPurgeSessions}, svc.Jobs(), "jobs without a schedule are skipped")

	svc = NewMaintenanceService(maintenanceConfig(), nil, nil, nil, nil, zap.NewNop())
	assert.NotContains(t, svc.Jobs(), JobPruneLimiters)
}

func TestMaintenanceRun(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewMaintenanceService(maintenanceConfig(), nil, nil, nil, pruner, zap.NewNop())

	n, err := svc.Run(context.Background(), JobPruneLimiters)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 15*time.Minute, pruner.idle)

	_, err = svc.Run(context.Background(), "reindex")
	assert.Error(t, err)
}

func TestMaintenanceStartRejectsBadSchedule(t *testing.T) {
	cfg := maintenanceConfig()
	cfg.AuditSpec = "every night"
	svc := NewMaintenanceService(cfg, nil, nil, nil, nil, zap.NewNop())
	assert.ErrorContains(t, svc.Start(), "purge_audit")
}

func TestMaintenanceStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	svc := NewMaintenanceService(maintenanceConfig(), nil, nil, nil, &fakePruner{}, zap.NewNop())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx)
}
