// Command contact is a terminal host for the contact form. "submit" sends
// one request from flags; "form" opens an interactive form.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/delivery"
	"github.com/zifrone/contact/internal/form"
	"github.com/zifrone/contact/internal/logger"
)

// Version is set at build time
var Version = "dev"

// errFailed marks a run whose outcome was already printed
var errFailed = errors.New("submission failed")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("a command is required")
	}

	switch args[0] {
	case "submit":
		return runSubmit(args[1:])
	case "form":
		return runForm(args[1:])
	case "version", "--version":
		fmt.Printf("contact %s\n", Version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `contact sends messages through the zifr.one contact pipeline.

Usage:
  contact submit --name NAME --email EMAIL --subject SUBJECT --message TEXT [flags]
  contact form [flags]

Both commands read client settings from --config (YAML) and
CONTACT_CLIENT_* environment variables.
`)
}

// clientFlags are shared by every command that talks to the service
type clientFlags struct {
	configPath string
	baseURL    string
	csrfPage   string
	verbose    bool
}

func (f *clientFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "client config YAML file")
	fs.StringVar(&f.baseURL, "base-url", "", "override the base URL endpoints resolve against")
	fs.StringVar(&f.csrfPage, "csrf-page", "", "page to read the CSRF token from (meta tag or cookie)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log delivery attempts to stderr")
}

// controller builds the delivery client and form controller from flags
func (f *clientFlags) controller() (*form.Controller, error) {
	cfg, err := config.LoadClient(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}

	level := "error"
	if f.verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(logger.Config{Level: level, Format: "text"}, os.Stderr)

	httpClient := &http.Client{}
	opts := []delivery.Option{
		delivery.WithHTTPClient(httpClient),
		delivery.WithLogger(log),
		delivery.WithEnvironment(delivery.Environment{
			UserAgent: "zifrone-contact-cli/" + Version,
			Referer:   cfg.BaseURL,
			Timezone:  time.Local.String(),
		}),
	}
	if f.csrfPage != "" {
		opts = append(opts, delivery.WithTokenSource(delivery.PageTokenSource(httpClient, f.csrfPage)))
	}

	client, err := delivery.New(*cfg, opts...)
	if err != nil {
		return nil, err
	}
	return form.New(client, *cfg), nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// parse handles --help the way the other commands do
func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if fs.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return false, nil
}
