// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeblack2k/sentinel-yt/internal/api"
	"github.com/joeblack2k/sentinel-yt/internal/bus"
	"github.com/joeblack2k/sentinel-yt/internal/config"
	"github.com/joeblack2k/sentinel-yt/internal/discovery"
	"github.com/joeblack2k/sentinel-yt/internal/judge"
	"github.com/joeblack2k/sentinel-yt/internal/lists"
	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
	"github.com/joeblack2k/sentinel-yt/internal/lounge"
	"github.com/joeblack2k/sentinel-yt/internal/media"
	"github.com/joeblack2k/sentinel-yt/internal/mqtt"
	"github.com/joeblack2k/sentinel-yt/internal/runtime"
	"github.com/joeblack2k/sentinel-yt/internal/sponsorblock"
	"github.com/joeblack2k/sentinel-yt/internal/store"
	"github.com/joeblack2k/sentinel-yt/internal/webhook"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	if config.ParseString("SENTINEL_BUILD_VERSION", "") == "" {
		cfg.BuildVersion = version
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "sentinel",
		Version: cfg.BuildVersion,
	})
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hostTZ := cfg.TimezoneDefault
	if hostTZ == "" {
		hostTZ = config.HostTimezone()
	}

	st, err := store.New(cfg.DBPath, hostTZ)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("db_path", cfg.DBPath).
			Msg("failed to open database")
	}
	defer func() { _ = st.Close() }()

	blocklist := lists.NewService(lists.KindBlacklist, cfg.DataDir, cfg.DBPath)
	allowlist := lists.NewService(lists.KindWhitelist, cfg.DataDir, cfg.DBPath)
	for _, list := range []*lists.Service{blocklist, allowlist} {
		if summary, err := list.Reload(ctx, st); err != nil {
			logger.Warn().Err(err).Str("kind", string(list.Kind())).Msg("initial list load failed")
		} else {
			logger.Info().
				Str("kind", string(list.Kind())).
				Int("entries", summary.EntriesCount).
				Msg("list loaded")
		}
	}

	wh := webhook.NewClient(time.Duration(cfg.WebhookTimeoutSeconds) * time.Second)
	gemini := judge.NewGeminiClient(cfg.GeminiModel)
	judgeSvc := judge.NewService(st, &cfg, wh, blocklist, allowlist, gemini)
	resolver := media.NewResolver()
	sponsor := sponsorblock.NewService(cfg.SponsorBlockAPIBase, cfg.SponsorBlockSegmentCacheTTL)
	bridge := mqtt.NewBridge()
	eventBus := bus.New()

	// The manager and supervisor reference each other: workers report
	// events upward, the supervisor drives workers. Close the loop with
	// a late-bound callback. The callback runs on the worker goroutine,
	// which keeps each device's events processed in arrival order.
	var sup *runtime.Supervisor
	manager := lounge.NewManager(st, nil, func(ev lounge.DeviceEvent) {
		sup.ProcessEvent(ctx, ev)
	})
	sup = runtime.NewSupervisor(&cfg, st, judgeSvc, manager, sponsor, resolver, bridge, eventBus)

	apiServer := api.New(api.Deps{
		Config:     &cfg,
		Store:      st,
		Supervisor: sup,
		Judge:      judgeSvc,
		Lounge:     manager,
		Blocklist:  blocklist,
		Allowlist:  allowlist,
		Scanner:    discovery.NewScanner(),
		MQTT:       bridge,
		Bus:        eventBus,
	})

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", cfg.BuildVersion).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", addr).
		Str("db_path", cfg.DBPath).
		Str("timezone", hostTZ).
		Msg("starting sentinel")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return blocklist.Watch(gctx, st) })
	g.Go(func() error { return allowlist.Watch(gctx, st) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		manager.StopAll()
		bridge.PublishOffline(shutdownCtx)
		bridge.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "runtime.failed").
			Msg("sentinel exited with error")
	}
	logger.Info().Msg("sentinel exiting")
}
