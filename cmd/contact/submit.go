package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/form"
	"github.com/zifrone/contact/internal/validation"
)

func runSubmit(args []string) error {
	var (
		flags  clientFlags
		values contact.Submission
	)

	fs := newFlagSet("submit")
	fs.StringVar(&values.Name, "name", "", "your name")
	fs.StringVar(&values.Email, "email", "", "your email address")
	fs.StringVar(&values.Company, "company", "", "company name (optional)")
	fs.StringVar(&values.WhatsApp, "whatsapp", "", "WhatsApp number (optional)")
	fs.StringVar(&values.Subject, "subject", "", "message subject")
	fs.StringVar(&values.Message, "message", "", `message text, or "-" to read it from stdin`)
	flags.add(fs)

	if help, err := parse(fs, args); help || err != nil {
		if help {
			fs.PrintDefaults()
		}
		return err
	}

	if values.Message == "-" {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 64<<10))
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		values.Message = string(raw)
	}

	ctrl, err := flags.controller()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return submit(ctx, ctrl, values, os.Stdout)
}

// submit enters values into the form, sends it and reports the outcome to out
func submit(ctx context.Context, ctrl *form.Controller, values contact.Submission, out io.Writer) error {
	for _, f := range contact.Fields {
		ctrl.Input(f, values.Get(f))
	}

	notice, err := ctrl.Submit(ctx)
	fmt.Fprintln(out, notice.Text)
	if err == nil {
		return nil
	}

	for _, f := range contact.Fields {
		if msg, ok := ctrl.Errors()[f]; ok {
			fmt.Fprintf(out, "  %s: %s\n", strings.ToLower(validation.Label(f)), msg)
		}
	}
	if notice.AlternateURL != "" {
		fmt.Fprintf(out, "WhatsApp: %s\n", notice.AlternateURL)
		fmt.Fprintf(out, "Call: %s\n", strings.TrimPrefix(ctrl.CallURL(), "tel:"))
	}
	return errFailed
}
