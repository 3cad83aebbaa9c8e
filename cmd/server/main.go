package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"relay-backend/internal/admin"
	"relay-backend/internal/auth"
	"relay-backend/internal/config"
	"relay-backend/internal/currentuser"
	"relay-backend/internal/engine"
	"relay-backend/internal/instrument"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Schema-driven JSON API server",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "import-template <entity>",
		Short: "Print the CSV import header for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importTemplate(args[0])
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("Config loaded (port: %d, db: %s)", cfg.Server.Port, cfg.Database.Driver)

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}

	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(cfg.Schema.Path, reg); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	migrator := store.NewMigrator(db)
	if err := migrator.MigrateAll(ctx, reg); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("Tables migrated")

	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware())

	app.Get("/health", instrument.HealthHandler)
	app.Get("/metrics", instrument.MetricsHandler)

	// Auth routes first: they must stay reachable without a token.
	authHandler := auth.NewAuthHandler(db, cfg.Auth.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	authMW := auth.AuthMiddleware(cfg.Auth.JWTSecret)
	userMW := currentuser.Middleware()

	adminHandler := admin.NewHandler(reg, migrator, cfg.Schema.Path)
	admin.RegisterAdminRoutes(app, adminHandler, authMW, auth.RequireAdmin())

	engineHandler := engine.NewHandler(db, reg, cfg.Bulk)
	engine.RegisterDynamicRoutes(app, engineHandler, authMW, userMW)

	if cfg.Schema.Watch {
		stop, err := metadata.Watch(cfg.Schema.Path, reg)
		if err != nil {
			return fmt.Errorf("schema watch: %w", err)
		}
		defer stop()
		log.Printf("Watching %s for schema changes", cfg.Schema.Path)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	return app.Listen(addr)
}

func importTemplate(entityName string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(cfg.Schema.Path, reg); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	entity := reg.GetEntity(entityName)
	if entity == nil {
		return fmt.Errorf("unknown entity %q", entityName)
	}

	fmt.Println(strings.Join(engine.ImportTemplate(entity), ","))
	return nil
}
