// Package main provides a CLI tool for database migrations.
// Migrations live in the migrations/ directory and are tracked in the
// schema_migrations table by golang-migrate.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var (
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.String("db-port", getEnv("DB_PORT", "5432"), "Database port")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "postgres"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "admincore"), "Database name")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database SSL mode")
		path       = flag.String("path", getEnv("MIGRATIONS_PATH", "migrations"), "Path to migrations directory")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]     Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]   Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  version    Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  drop       Drop all tables (use with extreme caution)\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		*dbUser, *dbPassword, *dbHost, *dbPort, *dbName, *dbSSLMode)

	m, closer, err := newMigrator(dsn, *path)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer closer()

	if err := runCommand(m, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// newMigrator opens the database and builds the migrate instance
func newMigrator(dsn, path string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, func() { m.Close() }, nil
}

// runCommand executes the specified migration command
func runCommand(m *migrate.Migrate, cmd string, args []string) error {
	switch cmd {
	case "up":
		if len(args) > 0 {
			steps, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			return finish(m.Steps(steps))
		}
		return finish(m.Up())
	case "down":
		if len(args) > 0 {
			steps, err := parseSteps(args[0])
			if err != nil {
				return err
			}
			return finish(m.Steps(-steps))
		}
		return finish(m.Down())
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("no migrations applied")
				return nil
			}
			return err
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)
		return nil
	case "drop":
		return m.Drop()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// finish treats "nothing to do" as success
func finish(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no change")
		return nil
	}
	return err
}

// parseSteps parses a step count argument
func parseSteps(arg string) (int, error) {
	var steps int
	if _, err := fmt.Sscanf(arg, "%d", &steps); err != nil || steps < 1 {
		return 0, fmt.Errorf("invalid number of steps: %s", arg)
	}
	return steps, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
