package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"seat_reservation/pkg/config"
	"seat_reservation/pkg/database"
	"seat_reservation/pkg/logger"
	"seat_reservation/pkg/reconciler"
	"seat_reservation/pkg/repository"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/reconcile/main.go [expired|active|all]")
		fmt.Println("  expired - close elapsed and abandoned reservations")
		fmt.Println("  active  - mark seats of in-window reservations unavailable")
		fmt.Println("  all     - expired, then active (default schedule behaviour)")
		os.Exit(1)
	}

	if err := logger.Init(os.Getenv("ENV") == "development"); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()
	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := database.Open(cfg.DB, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db, log)

	if err := cfg.ValidateReconcile(); err != nil {
		log.Fatal("invalid reconciliation settings", zap.Error(err))
	}

	rec := reconciler.New(repository.New(db), cfg.Reconcile.Grace, log)
	ctx := context.Background()
	now := time.Now()

	switch os.Args[1] {
	case "expired":
		n, err := rec.ReconcileExpired(ctx, now)
		if err != nil {
			log.Fatal("failed to reconcile expired reservations", zap.Error(err))
		}
		log.Info("expired reservations reconciled", zap.Int("transitioned", n))
	case "active":
		n, err := rec.ReconcileActive(ctx, now)
		if err != nil {
			log.Fatal("failed to reconcile active reservations", zap.Error(err))
		}
		log.Info("active reservations reconciled", zap.Int("seats_claimed", n))
	case "all":
		res, err := rec.Run(ctx, now)
		if err != nil {
			log.Fatal("failed to run reconciliation", zap.Error(err))
		}
		log.Info("reconciliation finished",
			zap.Int("completed", res.Completed),
			zap.Int("no_show", res.NoShow),
			zap.Int("seats_claimed", res.Claimed),
			zap.Int("failed", res.Failed))
	default:
		log.Fatal("unknown mode", zap.String("mode", os.Args[1]))
	}
}
