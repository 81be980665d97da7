// Command archive inspects and prunes archived contact submissions.
//
// Connection settings come from the same environment as the server:
// DATABASE_URL for the record table and the S3_* variables for raw messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	flag "github.com/spf13/pflag"

	"github.com/zifrone/contact/internal/archive"
	"github.com/zifrone/contact/internal/config"
)

const defaultTimeout = time.Minute

// Options holds the command line settings
type Options struct {
	DatabaseURL string
	Timeout     time.Duration
	EMLPath     string
	Retention   time.Duration
}

type recordGetter interface {
	GetByID(ctx context.Context, id string) (*archive.Record, error)
}

type messageGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

func main() {
	_ = godotenv.Load()

	var (
		dbURL     = flag.String("database-url", os.Getenv("DATABASE_URL"), "Archive database URL")
		timeout   = flag.Duration("timeout", defaultTimeout, "Timeout for the whole command")
		emlPath   = flag.String("eml", "", "show: write the raw message to FILE (- for stdout)")
		retention = flag.Duration("retention", 0, "purge: delete submissions older than this")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  show ID      Print one archived submission\n")
		fmt.Fprintf(os.Stderr, "  purge        Delete submissions older than --retention\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	opts := &Options{
		DatabaseURL: *dbURL,
		Timeout:     *timeout,
		EMLPath:     *emlPath,
		Retention:   *retention,
	}
	if err := run(opts, flag.Args(), os.Stdout); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(opts *Options, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("a command is required")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "show":
		if len(args) != 1 {
			return errors.New("show requires exactly one submission id")
		}
	case "purge":
		if len(args) != 0 {
			return errors.New("purge takes no arguments")
		}
		if opts.Retention <= 0 {
			return errors.New("purge requires a positive --retention")
		}
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	if opts.DatabaseURL == "" {
		return errors.New("DATABASE_URL or --database-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := archive.Open(ctx, opts.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := archive.NewRepository(db)

	objects, err := openObjectStore()
	if err != nil {
		return err
	}

	if cmd == "show" {
		var messages messageGetter
		if objects != nil {
			messages = objects
		}
		return show(ctx, repo, messages, args[0], opts.EMLPath, out)
	}

	n, err := archive.NewPurger(repo, objects, nil).Purge(ctx, opts.Retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d submissions older than %s\n", n, opts.Retention)
	return nil
}

// openObjectStore returns nil when no bucket is configured
func openObjectStore() (*archive.ObjectStore, error) {
	var storage config.StorageConfig
	if err := envconfig.Process("", &storage); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if storage.Bucket == "" {
		return nil, nil
	}
	return archive.NewObjectStore(storage)
}

func show(ctx context.Context, records recordGetter, messages messageGetter, id, emlPath string, out io.Writer) error {
	rec, err := records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	printRecord(out, rec)

	if emlPath == "" {
		return nil
	}
	if rec.MessageKey == "" {
		return errors.New("no raw message was stored for this submission")
	}
	if messages == nil {
		return errors.New("S3_BUCKET is required to fetch the raw message")
	}
	body, err := messages.Get(ctx, rec.MessageKey)
	if err != nil {
		return err
	}
	if emlPath == "-" {
		fmt.Fprintln(out)
		_, err = out.Write(body)
		return err
	}
	if err := os.WriteFile(emlPath, body, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", emlPath, err)
	}
	fmt.Fprintf(out, "Raw message written to %s\n", emlPath)
	return nil
}

func printRecord(out io.Writer, rec *archive.Record) {
	fmt.Fprintf(out, "ID:          %s\n", rec.ID)
	fmt.Fprintf(out, "Received:    %s\n", rec.ReceivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Name:        %s\n", rec.Name)
	fmt.Fprintf(out, "Email:       %s\n", rec.Email)
	if rec.Company != "" {
		fmt.Fprintf(out, "Company:     %s\n", rec.Company)
	}
	if rec.WhatsApp != "" {
		fmt.Fprintf(out, "WhatsApp:    %s\n", rec.WhatsApp)
	}
	fmt.Fprintf(out, "Subject:     %s\n", rec.Subject)
	fmt.Fprintf(out, "Client hash: %s\n", rec.ClientHash)
	if rec.MessageKey != "" {
		fmt.Fprintf(out, "Message key: %s\n", rec.MessageKey)
	}
	fmt.Fprintf(out, "\n%s\n", rec.Message)
}
