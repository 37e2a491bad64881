package cmd

import (
	"context"
	"log"

	"github.com/frahmantamala/meddevice-orders/internal/auth"
	"github.com/frahmantamala/meddevice-orders/internal/seed"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the role catalog and fixture accounts",
	Long:  `Write roles, permissions and role grants, then create the accounts listed in the seed file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		fixture, err := seed.LoadFile(seedFile)
		if err != nil {
			log.Fatalf("failed to load seed file: %v", err)
		}

		seeder := seed.NewSeeder(gormDB,
			auth.NewHasher(cfg.Security.BCryptCost),
			auth.PasswordPolicy{MinLength: cfg.Password.MinLength, MaxAge: cfg.Password.MaxAge},
			logger.LoggerWrapper())
		if err := seeder.Apply(context.Background(), fixture); err != nil {
			log.Fatalf("seeding failed: %v", err)
		}

		logger.LoggerWrapper().Info("seeding complete", "users", len(fixture.Users))
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "db/seed/seed.yml", "seed fixture file")
}
