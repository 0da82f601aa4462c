package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/AzyAli/map3d/internal/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down|version>")
	}
	_ = godotenv.Load()

	cfg, err := config.Load("map3d-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	m, err := newMigrate(dir, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("up: %v", err)
		}
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("down: %v", err)
		}
	case "version":
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Println("OK  no migrations applied")
	case err != nil:
		log.Fatalf("version: %v", err)
	default:
		fmt.Printf("OK  version %d (dirty=%v)\n", version, dirty)
	}
}

// newMigrate opens the migrations in dir against the postgres DSN through
// the pgx v5 driver.
func newMigrate(dir, dsn string) (*migrate.Migrate, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations path: %w", err)
	}
	m, err := migrate.New("file://"+abs, "pgx5://"+strings.TrimPrefix(dsn, "postgres://"))
	if err != nil {
		return nil, err
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }
