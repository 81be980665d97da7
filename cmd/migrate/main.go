// Command migrate manages the archive database schema.
//
// Migrations are embedded in the binary; --path reads them from a directory
// instead. The applied version is tracked in schema_migrations.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/zifrone/contact/migrations"
)

// Version is set at build time
var Version = "dev"

const defaultMigrationTimeout = 5 * time.Minute

// Config holds migration configuration
type Config struct {
	DatabaseURL    string
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
}

func main() {
	_ = godotenv.Load()

	var (
		dbURL    = flag.String("database-url", os.Getenv("DATABASE_URL"), "Archive database URL")
		migrPath = flag.String("path", os.Getenv("MIGRATIONS_PATH"), "Read migrations from this directory instead of the embedded set")
		timeout  = flag.Duration("timeout", defaultMigrationTimeout, "Connect and lock timeout")
		dryRun   = flag.Bool("dry-run", false, "Show what would be done without executing")
		version  = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Archive schema migrations for the contact service\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  drop         Drop everything in the database\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair in --path\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := &Config{
		DatabaseURL:    *dbURL,
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}
	if err := runCommand(cfg, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runCommand executes the specified migration command
func runCommand(cfg *Config, cmd string, args []string) error {
	if cmd == "create" {
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(cfg, args[0])
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL or --database-url is required")
	}

	switch cmd {
	case "version":
		return withMigrate(cfg, showVersion)
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
			steps = n
		}
		if cmd == "down" {
			steps = -steps
		}
		if cfg.DryRun {
			log.Printf("[DRY RUN] Would run %s with %d steps (0 = all)", cmd, steps)
			return nil
		}
		return withMigrate(cfg, func(m *migrate.Migrate) error { return migrateSteps(m, cmd, steps) })
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if cfg.DryRun {
			log.Printf("[DRY RUN] Would migrate to version %d", v)
			return nil
		}
		return withMigrate(cfg, func(m *migrate.Migrate) error { return migrateGoto(m, uint(v)) })
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if cfg.DryRun {
			log.Printf("[DRY RUN] Would force version to %d", v)
			return nil
		}
		return withMigrate(cfg, func(m *migrate.Migrate) error {
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force failed: %w", err)
			}
			log.Printf("Version forced to %d", v)
			return nil
		})
	case "drop":
		if cfg.DryRun {
			log.Println("[DRY RUN] Would drop all tables")
			return nil
		}
		if !confirm("This drops ALL tables in the database. Type 'yes' to confirm: ") {
			log.Println("Aborted")
			return nil
		}
		return withMigrate(cfg, func(m *migrate.Migrate) error { return m.Drop() })
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func migrateSteps(m *migrate.Migrate, cmd string, steps int) error {
	from, _, _ := m.Version()
	log.Printf("Starting migration %s from version %d...", cmd, from)

	var err error
	switch {
	case steps != 0:
		err = m.Steps(steps)
	case cmd == "down":
		err = m.Down()
	default:
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	log.Printf("Migration completed: %d -> %d", from, to)
	return nil
}

func migrateGoto(m *migrate.Migrate, version uint) error {
	from, _, _ := m.Version()
	if err := m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("Already at version %d", version)
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Printf("Migration completed: %d -> %d", from, version)
	return nil
}

func showVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("No migrations have been applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	status := ""
	if dirty {
		status = " (dirty)"
	}
	log.Printf("Current migration version: %d%s", version, status)
	return nil
}

// withMigrate opens the database, runs fn and closes everything
func withMigrate(cfg *Config, fn func(*migrate.Migrate) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	m, err := migrations.New(db, cfg.MigrationsPath)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()
	m.LockTimeout = cfg.Timeout

	return fn(m)
}

// createMigration writes the next numbered up/down pair
func createMigration(cfg *Config, name string) error {
	dir := cfg.MigrationsPath
	if dir == "" {
		dir = "migrations"
	}

	next, err := nextMigrationNumber(dir)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	base := fmt.Sprintf("%06d_%s", next, name)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	if cfg.DryRun {
		log.Printf("[DRY RUN] Would create %s and %s", up, down)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	created := time.Now().Format(time.RFC3339)
	if err := os.WriteFile(up, []byte(fmt.Sprintf("-- Migration: %s\n-- Created: %s\n", name, created)), 0o644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(down, []byte(fmt.Sprintf("-- Migration: %s (rollback)\n-- Created: %s\n", name, created)), 0o644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	log.Printf("Created %s and %s", up, down)
	return nil
}

// nextMigrationNumber returns one past the highest numbered file in dir
func nextMigrationNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(prefix); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
