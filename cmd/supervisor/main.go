package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/bootstrap"
	"github.com/refinery-labs/container-lambda/internal/config"
	"github.com/refinery-labs/container-lambda/internal/engine"
	"github.com/refinery-labs/container-lambda/internal/provision"
	"github.com/refinery-labs/container-lambda/internal/staging"
	"github.com/refinery-labs/container-lambda/internal/supervisor"
)

func isLocalDev() bool {
	return len(os.Args) != 1
}

func newLogger(localDev bool) (*zap.Logger, error) {
	if localDev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newHandler(cfg *config.Config, logger *zap.Logger) (*supervisor.Handler, *provision.Provisioner, error) {
	s3Client, err := staging.NewS3Client(cfg.Region)
	if err != nil {
		return nil, nil, err
	}

	fs := afero.NewOsFs()
	udocker := engine.New(cfg.Engine.Binary, cfg.Engine.Home, logger)
	provisioner := provision.New(udocker, cfg.ContainerName, cfg.Engine.ExecMode, cfg.Provision.CacheTTL, logger)
	bridge := staging.NewBridge(s3Client, fs, staging.Options{
		ScratchRoot:         cfg.ScratchRoot,
		OutputBucket:        cfg.OutputBucket,
		ExcludeControlFiles: cfg.Upload.ExcludeControlFiles,
		ScriptPath:          cfg.Exec.ScriptPath,
	}, logger)

	handler := supervisor.NewHandler(cfg, fs, supervisor.Deps{
		Bootstrapper: bootstrap.New(fs, cfg, logger),
		Provisioner:  provisioner,
		Runner:       udocker,
		Stager:       bridge,
	}, logger)
	return handler, provisioner, nil
}

// runLocal executes a single invocation from an event file outside Lambda.
func runLocal(handler *supervisor.Handler, eventFile string) error {
	payload, err := os.ReadFile(eventFile)
	if err != nil {
		return err
	}
	report, err := handler.Handle(context.Background(), payload)
	if err != nil {
		return err
	}
	fmt.Print(report)
	return nil
}

func main() {
	localDev := isLocalDev()

	logger, err := newLogger(localDev)
	if err != nil {
		log.Fatalln("unable to create logger", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Environ())
	if err != nil {
		logger.Fatal("unable to load config", zap.Error(err))
	}

	handler, provisioner, err := newHandler(cfg, logger)
	if err != nil {
		logger.Fatal("unable to create handler", zap.Error(err))
	}
	defer provisioner.Close()

	if localDev {
		if len(os.Args) != 2 {
			log.Fatalf("usage: %s <event json file>", os.Args[0])
		}
		if err := runLocal(handler, os.Args[1]); err != nil {
			logger.Fatal("local invocation failed", zap.Error(err))
		}
		return
	}

	logger.Info("starting supervisor", zap.String("image", cfg.ImageID))
	switch os.Getenv("LAMBDA_ENVIRONMENT") {
	case "API_GATEWAY":
		lambda.Start(handler.HandleAPIGateway)
	default:
		lambda.Start(handler.Handle)
	}
}
