// Package main Agent Worker 入口
//
// 一个进程承载全部后台 Agent：分析、生成、优化各自作为事件
// 消费者运行，发现 Agent 以定时器驱动（不订阅事件）。与
// API Server 通过 Redis Streams 共享事件流，可独立水平扩容。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"resume-automation/internal/agent"
	"resume-automation/internal/config"
	redisbus "resume-automation/internal/shared/eventbus/redis"
	"resume-automation/internal/shared/objstore"
	"resume-automation/internal/shared/storage"
	"resume-automation/internal/shared/storage/dbutil"
	"resume-automation/internal/shared/storage/driver/postgres"
	"resume-automation/internal/shared/storage/driver/sqlite"
	"resume-automation/internal/shared/storage/repository"
)

// defaultSearchTerms 定时发现的兜底搜索词（用户无显式偏好时）
var defaultSearchTerms = []string{"software engineer", "backend developer"}

func main() {
	cfg := config.Load()

	log.Printf("Starting Agent Worker... [env=%s]", cfg.Env)
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

	docs, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := docs.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure MinIO bucket: %v", err)
	}
	log.Println("Connected to MinIO")

	// 事件驱动的 Agent：各自独立消费组
	runners := []*agent.Runner{
		agent.NewRunner(agent.NewAnalyzerAgent(store, bus, &agent.KeywordAnalyzer{}, cfg.CellID), bus, cfg.CellID),
		agent.NewRunner(agent.NewGeneratorAgent(store, bus, &agent.PlainRenderer{}, docs, cfg.CellID), bus, cfg.CellID),
		agent.NewRunner(agent.NewOptimizerAgent(store, bus, cfg.CellID), bus, cfg.CellID),
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *agent.Runner) {
			defer wg.Done()
			if err := r.Start(ctx); err != nil {
				log.Printf("agent runner exited: %v", err)
			}
		}(r)
	}

	// 定时职位发现
	discovery := agent.NewDiscoveryAgent(store, bus, cfg.CellID)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runScheduledDiscovery(ctx, cfg, store, discovery)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down agents...")
	cancel()
	for _, r := range runners {
		r.Stop()
	}
	wg.Wait()
	fmt.Println("Agent Worker stopped")
}

// runScheduledDiscovery 按配置间隔为每个活跃用户执行职位发现
func runScheduledDiscovery(ctx context.Context, cfg *config.Config, store storage.Store, discovery *agent.DiscoveryAgent) {
	ticker := time.NewTicker(cfg.Agents.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		users, err := store.ListActiveUsers(ctx)
		if err != nil {
			log.Printf("[discovery.schedule] list users failed: %v", err)
			continue
		}
		for _, user := range users {
			jobIDs, err := discovery.RunDiscovery(ctx, user.ID, defaultSearchTerms, "Remote")
			if err != nil {
				log.Printf("[discovery.schedule] user=%d discovery failed: %v", user.ID, err)
				continue
			}
			if len(jobIDs) > 0 {
				log.Printf("[discovery.schedule] user=%d new_jobs=%d", user.ID, len(jobIDs))
			}
		}
	}
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
