// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

// seedFiles run in order; each one upserts so reseeding is safe.
var seedFiles = []string{
	"schools.sql",
	"test_users.sql",
}

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed files")
	flag.Parse()

	cfg, _, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Level, cfg.Format)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseConfig.DSN(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	for _, name := range seedFiles {
		file := filepath.Join(*dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}
	log.Info().Msg("database seeding completed")
}
