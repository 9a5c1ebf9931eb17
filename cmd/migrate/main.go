package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// usage: migrate [up|down|version|force N]
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	source, err := migrationsSource(os.Getenv("DATABASE_MIGRATIONS_PATH"))
	if err != nil {
		logger.Fatalf("Failed to locate migrations: %v", err)
	}

	m, err := migrate.New(source, dbURL)
	if err != nil {
		logger.Fatalf("Failed to initialize migrations: %v", err)
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatalf("Migration up failed: %v", err)
		}
		logger.Info("Migration up successful")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatalf("Migration down failed: %v", err)
		}
		logger.Info("Migration down successful")
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.Fatalf("Failed to read version: %v", err)
		}
		logger.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Current migration version")
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal("force requires a version number")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatalf("Invalid version %q", os.Args[2])
		}
		if err := m.Force(version); err != nil {
			logger.Fatalf("Force failed: %v", err)
		}
		logger.WithField("version", version).Info("Migration version forced")
	default:
		logger.Fatalf("Unknown command %q (want up, down, version or force)", cmd)
	}
}

// migrationsSource returns a file:// source URL. Without a configured path the
// migrations directory is searched upward from the working directory.
func migrationsSource(configured string) (string, error) {
	if configured != "" {
		if strings.Contains(configured, "://") {
			return configured, nil
		}
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", err
		}
		return "file://" + abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	current := cwd
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(current, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return "file://" + candidate, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", errors.New("migrations directory not found")
}
