package main

import (
	"context"
	"flag"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/database"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/repositories"
	"github.com/nimeshabuddhika/resilient-card-settlement/services/transfer-api/configs"
	"go.uber.org/zap"
)

// main seeds the demo cards into the database.
// It loads the transfer-api config, runs migrations and upserts every card in one transaction.
func main() {
	migrate := flag.Bool("migrate", true, "Run migrations before seeding")
	flag.Parse()

	pkg.InitLogger("card-seeder")
	logger := pkg.Logger
	defer logger.Sync()

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, closer, err := database.New(ctx, logger, database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	})
	if err != nil {
		logger.Fatal("failed_to_init_db", zap.Error(err))
	}
	defer closer()

	if *migrate {
		if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
			logger.Fatal("failed_to_run_migrations", zap.Error(err))
		}
	}

	accounts := repositories.SeedAccounts(time.Now())
	if err := repositories.NewPostgresAccountStore(logger, db).Provision(ctx, accounts...); err != nil {
		logger.Fatal("failed_to_seed_accounts", zap.Error(err))
	}
	for _, a := range accounts {
		logger.Info("card_seeded",
			zap.String("card", models.MaskCardNumber(a.CardNumber)),
			zap.String("holder", a.HolderName),
			zap.String("balance", a.Balance.StringFixed(2)),
			zap.Bool("active", a.IsActive),
			zap.Time("expires_at", a.ExpiresAt))
	}
	logger.Info("seeding_completed", zap.Int("cards", len(accounts)))
}
