// Command lambda serves the intake handler as an AWS Lambda / Netlify
// function behind an API Gateway proxy integration.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/zifrone/contact/internal/app"
	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/intake"
	"github.com/zifrone/contact/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logger())
	slog.SetDefault(log)

	// limiter state and connections persist across warm invocations
	ctx := context.Background()
	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build service", slog.Any("error", err))
		os.Exit(1)
	}
	svc.Start(ctx)

	// lambda.Start never returns; the runtime tears the process down
	lambda.Start(intake.NewLambdaAdapter(svc.Handler).Handle)
}
