package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liveattend/internal/app"
	"liveattend/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// configPath picks the config file: the -config flag, then
// LIVEATTEND_CONFIG_FILE. Empty means env and defaults only.
func configPath(args []string) (string, error) {
	fs := flag.NewFlagSet("liveattend", flag.ContinueOnError)
	path := fs.String("config", "", "path to a JSON or YAML config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *path != "" {
		return *path, nil
	}
	return os.Getenv("LIVEATTEND_CONFIG_FILE"), nil
}

func run(args []string) error {
	// a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	path, err := configPath(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	if err := application.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
