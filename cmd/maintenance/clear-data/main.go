package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/coachconnect/booking-engine/internal/database"
)

// Booking data, children before parents. Accounts and trainers are kept
// unless -all is given.
var bookingTables = []string{
	"notification_events",
	"payment_reconciliations",
	"payment_audits",
	"payment_intents",
	"bookings",
	"package_credits",
	"group_sessions",
	"recurring_series",
}

var identityTables = []string{
	"availability_exceptions",
	"availability_rules",
	"players",
	"parents",
	"trainers",
	"accounts",
}

func main() {
	var dbURLFlag string
	var all, yes bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&all, "all", false, "also clear accounts, trainers and schedules")
	flag.BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	_ = godotenv.Load()

	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		logger.Fatal("Refusing to clear data with ENVIRONMENT=production")
	}

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	tables := bookingTables
	if all {
		tables = append(append([]string{}, bookingTables...), identityTables...)
	}

	if !yes {
		fmt.Printf("This will delete every row in: %s\nType 'yes' to continue: ", strings.Join(tables, ", "))
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
			logger.Info("Aborted")
			return
		}
	}

	// Build minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		Driver:             "postgres",
		MaxConnections:     2,
		MaxIdleConnections: 1,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))); err != nil {
		logger.Fatalf("Failed to truncate tables: %v", err)
	}
	logger.WithField("tables", len(tables)).Info("Data cleared")

	for _, t := range tables {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			logger.WithError(err).WithField("table", t).Warn("Count failed")
			continue
		}
		logger.WithFields(logrus.Fields{"table": t, "rows": count}).Info("Post-clear row count")
	}
}
