package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wagateio/wagate/internal/chatlog"
	"github.com/wagateio/wagate/internal/session"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
}

// StartBackgroundJobs registers and starts the periodic maintenance jobs:
// a stale-device sweep and the chat log retention cleanup.
func (a *Application) StartBackgroundJobs(ctx context.Context, svc *session.Service, recorder *chatlog.Recorder) {
	_, err := a.sched.AddFunc("@every 5m", func() {
		if err := svc.SweepStale(ctx); err != nil {
			zap.L().Error("stale device sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Error("failed to register stale sweep job", zap.Error(err))
	}

	_, err = a.sched.AddFunc("@daily", func() {
		days := a.GetSettingsInt64Value("chatlog", "retention_days")
		retention := chatlog.DefaultRetention
		if days > 0 {
			retention = time.Duration(days) * 24 * time.Hour
		}
		if err := recorder.Cleanup(ctx, retention); err != nil {
			zap.L().Error("chat log cleanup failed", zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Error("failed to register chat log cleanup job", zap.Error(err))
	}

	a.sched.Start()
	zap.L().Info("background jobs started")
}
