package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/database"
	"github.com/stemsi/forms-backend/internal/logger"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/repository"
	"github.com/stemsi/forms-backend/internal/service"
)

// seed-form loads form definitions from JSON files, one form per file, and
// upserts them. Cached copies are dropped so the change is visible at once.
func main() {
	flag.Usage = func() {
		fmt.Println("Usage: go run cmd/seed-form/main.go <form.json> [more.json ...]")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	formRepo := repository.NewFormRepository(pool)
	formService := service.NewFormService(formRepo, repository.NewResponseRepository(pool), rdb, cfg.FormCacheTTL, log)

	successCount := 0
	for _, path := range flag.Args() {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("Error reading %s: %v\n", path, err)
			continue
		}

		var form model.Form
		if err := json.Unmarshal(raw, &form); err != nil {
			fmt.Printf("Error decoding %s: %v\n", path, err)
			continue
		}
		if form.ID == "" {
			fmt.Printf("Error in %s: form id is required\n", path)
			continue
		}

		if err := formRepo.Upsert(ctx, &form); err != nil {
			fmt.Printf("Error storing form %s: %v\n", form.ID, err)
			continue
		}
		if err := formService.Invalidate(ctx, form.ID); err != nil {
			log.Warn().Err(err).Str("form_id", form.ID).Msg("Failed to drop cached form")
		}

		successCount++
		fmt.Printf("Stored form %s (%d questions, features %v)\n", form.ID, len(form.Questions), form.Features.Names())
	}

	fmt.Printf("\nSeed completed! Stored %d/%d forms.\n", successCount, flag.NArg())
}
