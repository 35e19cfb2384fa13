// Command seed creates a staff user or resets an existing one with the same
// email. Run with --help for the settings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/auth"
	"github.com/phbpx/leadtrack/pkg/database"
	"github.com/phbpx/leadtrack/postgres"
	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	sugar := log.Sugar()

	if err := run(sugar); err != nil {
		sugar.Errorw("seed", "err", err)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := struct {
		DB struct {
			User       string `conf:"default:leadsvc"`
			Password   string `conf:"default:leadsvc,mask"`
			Host       string `conf:"default:localhost"`
			Name       string `conf:"default:leads"`
			DisableTLS bool   `conf:"default:true"`
		}
		Seed struct {
			Name     string `conf:"required"`
			Email    string `conf:"required"`
			Password string `conf:"required,mask"`
			Role     string `conf:"default:ADMIN"`
		}
	}{}

	help, err := conf.Parse("LEAD", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	role := leadtrack.Role(cfg.Seed.Role)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q: want %q or %q", cfg.Seed.Role, leadtrack.RoleAdmin, leadtrack.RoleSuperAdmin)
	}

	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("updating database schema: %w", err)
	}

	hash, err := auth.HashPassword(cfg.Seed.Password)
	if err != nil {
		return err
	}

	user, err := postgres.NewStore(db).SaveUser(ctx, leadtrack.User{
		Name:         cfg.Seed.Name,
		Email:        cfg.Seed.Email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	log.Infow("seed", "status", "user saved", "id", user.ID, "email", user.Email, "role", user.Role)
	return nil
}
