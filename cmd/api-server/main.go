// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"missions-admin/api"
	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/apiserver/scheduler"
	"missions-admin/internal/apiserver/server"
	"missions-admin/internal/config"
	"missions-admin/internal/shared/infra"
	"missions-admin/internal/shared/objstore"
	"missions-admin/internal/shared/storage"
)

func main() {
	// 加载配置（自动加载 .env，根据 TEST_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 启动期校验内嵌的 OpenAPI 规格，路由和文档不同步属于编程错误
	if _, err := api.Load(); err != nil {
		log.Fatalf("Invalid embedded OpenAPI spec: %v", err)
	}

	// 初始化持久化存储（任务、运行、版本、死信）
	store, err := infra.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to storage: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to storage [driver=%s]", cfg.DatabaseDriver)

	// 初始化 Redis（幂等声明、运行状态缓存、事件总线、运行队列）。
	// 未配置时交给 Handler 走降级模式，配置了却连不上则视为部署错误。
	var cacheStore storage.CacheStore
	if cfg.RedisURL != "" {
		redisInfra, err := infra.NewRedisInfra(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisInfra.Close()
		cacheStore = redisInfra
		log.Println("Connected to Redis")
	}

	h := server.NewHandler(store, cacheStore, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MinIO 可选：配置后超限的步骤载荷外移到对象存储
	if cfg.MinIO.Endpoint != "" {
		artifacts, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to init object storage: %v", err)
		}
		if err := artifacts.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure artifact bucket: %v", err)
		}
		h.Engine().SetArtifactStore(artifacts)
		log.Println("Connected to MinIO, artifact offloading enabled")
	}

	// etcd 可选：多副本部署时只有领导者节点评估排程
	if len(cfg.EtcdEndpoints) > 0 {
		elector, err := scheduler.NewElector(cfg.EtcdEndpoints, cfg.EtcdPrefix, cfg.Scheduler.NodeID)
		if err != nil {
			log.Fatalf("Failed to init leader elector: %v", err)
		}
		h.Scheduler().SetLeaderGate(elector)
		go elector.Run(ctx)
		log.Println("Connected to etcd, leader election enabled")
	}

	// 管理员账号引导（幂等，已存在则跳过）
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if err := auth.EnsureAdminUser(store, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			log.Fatalf("Failed to ensure admin user: %v", err)
		}
	}

	// 启动调度器（tick 评估 + 兜底轮询 + 运行工作协程）
	if err := h.StartScheduler(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		// SSE / WebSocket 是长连接，不能设 WriteTimeout，超时由各处理器自行控制
		IdleTimeout: 60 * time.Second,
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
		cancel()
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	h.WaitScheduler()
	fmt.Println("Server stopped")
}
