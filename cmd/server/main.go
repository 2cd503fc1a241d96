package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/clock"
	"groupchat/internal/config"
	"groupchat/internal/db"
	clog "groupchat/internal/log"
	"groupchat/internal/mw"
	"groupchat/internal/server"
	"groupchat/internal/service"
	"groupchat/internal/storage"
	"groupchat/internal/sweeper"
	"groupchat/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// main 负责加载配置、初始化日志、连接数据库，并在同一个 errgroup 中运行 HTTP 服务与封禁清理任务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage")
	}

	clk := clock.Real()
	hub := ws.NewHub()
	access := service.NewAccessService(gdb, clk)
	groups := service.NewGroupService(gdb, access, hub)
	bans := service.NewBanService(gdb, access, hub, clk)
	limiter := mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 2*time.Minute)

	r := server.SetupRouter(cfg, server.Deps{
		Auth:     auth.NewAuthenticator(gdb, cfg.JWTSecret),
		Access:   access,
		Users:    service.NewUserService(gdb, cfg, access, hub),
		Groups:   groups,
		Channels: service.NewChannelService(gdb, access, groups, hub, clk),
		Messages: service.NewMessageService(gdb, access, hub, clk),
		Bans:     bans,
		Hub:      hub,
		Store:    store,
		Limiter:  limiter,
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	swept := make(chan struct{})
	g.Go(func() error {
		defer close(swept)
		return sweeper.New(bans, hub, cfg.BanSweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// 清理任务结束后再关闭 hub，避免向已关闭的 hub 发布事件。
		<-swept
		hub.Shutdown()
		limiter.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
	log.Info().Msg("server stopped")
}
