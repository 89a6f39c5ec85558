// seed-admin creates or updates the portal admin user.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  ADMIN_USERNAME=hradmin ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	username := utils.StringFromEnv("ADMIN_USERNAME", "hradmin")
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	existing, err := models.FindUserByUsername(ctx, db, username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
		os.Exit(1)
	}

	if existing != nil {
		err = db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
			"password": string(hashed),
			"role":     models.UserRoleAdmin,
		}).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("admin user %q updated\n", username)
		return
	}

	user := models.User{
		Username: username,
		Name:     "Portal Admin",
		Password: string(hashed),
		Role:     models.UserRoleAdmin,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("admin user %q created (id %d)\n", username, user.ID)
}
