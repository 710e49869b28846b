package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alal76/crm-solution-sub000/internal/core/auth"
	"github.com/alal76/crm-solution-sub000/internal/core/config"
	"github.com/alal76/crm-solution-sub000/internal/core/db"
	"github.com/alal76/crm-solution-sub000/internal/engine"
	"github.com/alal76/crm-solution-sub000/internal/httpapi"
	"github.com/alal76/crm-solution-sub000/internal/store"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 8084, "HTTP server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := newLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}

	if dbURL == "" {
		return fmt.Errorf("--db-url required")
	}
	conn, err := db.Open(dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	applied, err := db.MigrationsApplied(conn)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	if !applied {
		return fmt.Errorf("schema not up to date - run 'workflowd migrate' first")
	}

	queries, err := db.LoadQueries(conn)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set WF_HMAC_SECRET environment variable)")
	}
	authenticator := auth.NewAuthenticator(secrets, queries)

	st := store.New(conn, queries, log, cfg.ConfigCacheTTL)
	resolver := engine.NewResolver(st, log)
	eng := engine.NewEngine(resolver, st, log, cfg.ConflictRetries)

	server := httpapi.New(st, eng, authenticator.Middleware(), log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      http.TimeoutHandler(server.Handler(), cfg.RequestTimeout, "request timed out"),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	log.Info("starting workflow service",
		"version", Version, "addr", httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-sigChan:
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
