package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/exampapers/ExamPrepBusiness/internal/app"
	"github.com/exampapers/ExamPrepBusiness/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags and dispatches to init, one-shot commands or the server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("examprep", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port, overrides the config file")
	initDSN := fs.String("init", "", "write a new config for this DSN (sqlite path or postgres URL) and exit")
	migrate := fs.Bool("migrate", false, "run database migrations and exit")
	maintainOnce := fs.Bool("maintain-once", false, "run one maintenance sweep and exit")
	createAdmin := fs.String("create-admin", "", "create an admin as user:password and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	configPath := appCfg.ConfigPath

	switch {
	case strings.TrimSpace(*initDSN) != "":
		username, password, errCreds := splitCredentials(*createAdmin)
		if errCreds != nil {
			return fmt.Errorf("-init requires -create-admin: %w", errCreds)
		}
		req := app.InitRequest{Port: *port, AdminUsername: username, AdminPassword: password}
		if dsn := strings.TrimSpace(*initDSN); strings.Contains(dsn, "://") {
			req.DatabaseDSN = dsn
		} else {
			req.DatabaseType = "sqlite"
			req.DatabasePath = dsn
		}
		return app.Initialize(configPath, req)
	case *migrate:
		return app.Migrate(ctx, configPath)
	case *maintainOnce:
		_, errSweep := app.RunMaintenanceOnce(ctx, configPath)
		return errSweep
	case strings.TrimSpace(*createAdmin) != "":
		username, password, errCreds := splitCredentials(*createAdmin)
		if errCreds != nil {
			return errCreds
		}
		return app.CreateAdmin(configPath, username, password)
	}

	if !app.ConfigExists(configPath) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		return fmt.Errorf("config not found at %s, run with -init first", configPath)
	}
	return app.RunServer(ctx, configPath, *port)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// splitCredentials parses user:password.
func splitCredentials(raw string) (string, string, error) {
	username, password, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || strings.TrimSpace(username) == "" || password == "" {
		return "", "", errors.New("credentials must be user:password")
	}
	return strings.TrimSpace(username), password, nil
}
