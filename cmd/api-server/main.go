// Package main API Server 入口
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-automation/internal/agent"
	"resume-automation/internal/apiserver/auth"
	"resume-automation/internal/apiserver/server"
	"resume-automation/internal/config"
	redisbus "resume-automation/internal/shared/eventbus/redis"
	"resume-automation/internal/shared/storage"
	"resume-automation/internal/shared/storage/dbutil"
	"resume-automation/internal/shared/storage/driver/postgres"
	"resume-automation/internal/shared/storage/driver/sqlite"
	"resume-automation/internal/shared/storage/repository"
	"resume-automation/internal/workflow"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to %s database", cfg.DatabaseDriver)

	bus, err := redisbus.NewBus(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer bus.Close()
	log.Println("Connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 发现步骤由引擎直接调用，引擎进程内常驻一个发现 Agent
	discovery := agent.NewDiscoveryAgent(store, bus, cfg.CellID)

	engine := workflow.NewEngine(workflow.Options{
		CellID:       cfg.CellID,
		Bus:          bus,
		Discovery:    discovery,
		HistoryLimit: cfg.Engine.HistoryLimit,
	})
	engine.Start(ctx)
	defer engine.Stop()

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.Auth.JWTSecret
	if cfg.Auth.AccessTokenTTL > 0 {
		authCfg.AccessTokenTTL = cfg.Auth.AccessTokenTTL
	}
	if !authCfg.Enabled() {
		log.Println("WARNING: JWT_SECRET not set, API authentication disabled")
	}

	h := server.NewHandler(engine, store, bus, cfg.CellID, authCfg)
	defer h.Close()

	// 周期性输出引擎运行状态
	go func() {
		ticker := time.NewTicker(cfg.Engine.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := engine.Stats()
				log.Printf("[engine.monitor] active=%d created=%d completed=%d failed=%d",
					stats.Active, stats.Created, stats.Completed, stats.Failed)
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// openStore 按配置驱动打开数据库并自动迁移
func openStore(cfg *config.Config) (storage.Store, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = sqlite.Open(cfg.DatabaseURL)
		dialect = sqlite.NewDialect()
	default:
		db, err = postgres.Open(cfg.DatabaseURL)
		dialect = postgres.NewDialect()
	}
	if err != nil {
		return nil, err
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}
