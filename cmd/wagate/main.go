package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cast"
	"github.com/wagateio/wagate/config"
	"github.com/wagateio/wagate/internal/adminapi"
	"github.com/wagateio/wagate/internal/app"
	"github.com/wagateio/wagate/internal/chatlog"
	"github.com/wagateio/wagate/internal/mailer"
	"github.com/wagateio/wagate/internal/session"
	"github.com/wagateio/wagate/internal/wameow"
	"github.com/wagateio/wagate/internal/webserver"
	"go.uber.org/zap"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	confFile = flag.String("c", "/etc/wagate.yml", "config file")
	initDb   = flag.Bool("initdb", false, "drop and initialize database")
)

var version = "dev"

func printHelp() {
	if *h {
		ustr := fmt.Sprintf("wagate version: %s, usage: wagate -h\nOptions:", version)
		fmt.Fprintf(os.Stderr, "%s\n", ustr)
		flag.PrintDefaults()
		os.Exit(0)
	}
}

func main() {
	flag.Parse()
	printHelp()

	if *showVer {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config.LoadConfig(*confFile)

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}

	container, err := wameow.NewContainer(application.DB(), cfg.Database.Type)
	if err != nil {
		zap.S().Fatalf("credential store init failed: %v", err)
	}

	registry := wameow.NewRegistry(container.NewFactory())
	svc := session.NewService(application.DB(), registry, application.Bus())

	recorder, err := chatlog.NewRecorder(application.DB())
	if err != nil {
		zap.S().Fatalf("chat log recorder init failed: %v", err)
	}
	defer recorder.Release()
	svc.SetMessageSink(recorder)

	notifier := mailer.NewNotifier(application.DB(), func() mailer.SMTPConfig {
		return mailer.SMTPConfig{
			Host:     application.GetSettingsStringValue("smtp", "host"),
			Port:     cast.ToInt(application.GetSettingsInt64Value("smtp", "port")),
			Username: application.GetSettingsStringValue("smtp", "username"),
			Password: application.GetSettingsStringValue("smtp", "password"),
			From:     application.GetSettingsStringValue("smtp", "from"),
		}
	})
	if err := notifier.Subscribe(application.Bus()); err != nil {
		zap.S().Errorf("disconnect notifier subscribe failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.ReconcileStartup(ctx); err != nil {
		zap.S().Errorf("session reconciliation failed: %v", err)
	}

	application.StartBackgroundJobs(ctx, svc, recorder)

	server := webserver.Init(application)
	adminapi.Init(application, svc, recorder)

	go func() {
		if err := server.Start(); err != nil {
			zap.S().Errorf("web server stopped: %v", err)
			cancel()
		}
	}()
	zap.S().Infof("wagate %s listening on %s:%d", version, cfg.Web.Host, cfg.Web.Port)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-ctx.Done():
	}

	zap.S().Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	registry.Drain(shutdownCtx)
	server.Shutdown()
}
