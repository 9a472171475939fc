package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"minimedi/internal/app"
	"minimedi/internal/config"
	"minimedi/internal/integrations/paramstore"
	"minimedi/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fatal("failed to load config", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if cfg.Store != config.StoreDynamoDB {
		slog.Error("lambda entry point only supports the dynamodb store", "store", cfg.Store)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	var params paramstore.Getter
	if cfg.NeedsParamStore() {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		params = ssmClient
	}
	store, err := repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}

	// ---- Handler ----
	a, err := app.New(app.Deps{Config: cfg, Store: store, Params: params, Logger: slog.Default()})
	if err != nil {
		fatal("failed to wire handler", err)
	}

	lambda.Start(a.Handler.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
