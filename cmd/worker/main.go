package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/db"
	"github.com/counseling-records/backend/internal/events"
	"github.com/counseling-records/backend/internal/repositories"
	"github.com/counseling-records/backend/internal/services"
	"go.uber.org/zap"
)

// The API sweeps expired leases opportunistically on every lock operation.
// This worker covers records nobody touches again, so a forgotten lease never
// lingers past its TTL by more than one sweep interval.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	leaseRepo := repositories.NewLeaseRepo(pool)
	auditRepo := repositories.NewLockAuditRepo(pool)
	recordRepo := repositories.NewRecordRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	lockService := services.NewLockService(leaseRepo, auditRepo, recordRepo, publisher, cfg, log)

	log.Info("lease sweeper started", zap.Duration("interval", cfg.SweepInterval))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			n, err := lockService.SweepExpired(ctx)
			if err != nil {
				log.Error("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired leases reclaimed", zap.Int("count", n))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		}
	}
}
