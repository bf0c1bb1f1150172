// Command traintrack runs the training plan lifecycle daemon and its
// administrative commands.
package main

import (
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

func main() {
	// Initialize structured logger; the configured level replaces it once config loads
	initializeLogger(slog.LevelDebug)

	// Load .env before viper reads the environment
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("traintrack failed", "error", err)
		os.Exit(1)
	}
}

// initializeLogger sets up structured text logging at level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
