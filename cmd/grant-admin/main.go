package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/database"
	"github.com/stemsi/forms-backend/internal/logger"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/repository"
	"github.com/stemsi/forms-backend/internal/service"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	adminRepo := repository.NewAdminRepository(pool)
	authService := service.NewAuthService(cfg.JWTSecret, adminRepo)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Grant Form Admin ===")

	fmt.Print("Enter Discord User ID: ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	fmt.Print("Enter Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		fmt.Println("Error: Username is required")
		return
	}

	fmt.Print("Token lifetime (default 24h): ")
	ttlStr, _ := reader.ReadString('\n')
	ttlStr = strings.TrimSpace(ttlStr)
	ttl := 24 * time.Hour
	if ttlStr != "" {
		d, err := time.ParseDuration(ttlStr)
		if err != nil || d <= 0 {
			fmt.Println("Error: Token lifetime must be a positive duration such as 12h")
			return
		}
		ttl = d
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	if err := adminRepo.Grant(ctx, userID); err != nil {
		log.Fatal().Err(err).Msg("Failed to grant admin")
	}

	token, err := authService.GenerateToken(&model.Identity{ID: userID, Username: username}, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Printf("\nSuccess! %s (%s) is now a form admin.\n", username, userID)
	fmt.Printf("Bearer token (valid %s):\n%s\n", ttl, token)
}
