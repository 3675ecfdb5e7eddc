// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/emberlaunch/ember/internal/config"
	"github.com/emberlaunch/ember/internal/credential"
	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/identity"
	"github.com/emberlaunch/ember/internal/instance"
	"github.com/emberlaunch/ember/internal/launch"
	"github.com/emberlaunch/ember/internal/logging"
	"github.com/emberlaunch/ember/internal/observability"
	"github.com/emberlaunch/ember/internal/redact"
	"github.com/emberlaunch/ember/internal/secret"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/internal/xdg"
)

// Deps contains injectable dependencies for every command.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ProviderFactory creates the identity provider.
	// Default: identity.NewMicrosoft
	ProviderFactory func(cfg *config.Config) (identity.Provider, error)

	// SecretsFactory opens the secret store.
	// Default: secret.Open with the configured backend
	SecretsFactory func(cfg *config.Config) (secret.Store, error)

	// ObservabilityServerFactory creates the metrics server used while a
	// game runs.
	// Default: observability.NewServer
	ObservabilityServerFactory func(opts observability.Options, registrars ...observability.Registrar) ObservabilityServer

	// Now is the clock. Default: time.Now
	Now func() time.Time

	configFile string
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *Deps) setDefaults() {
	if d.ProviderFactory == nil {
		d.ProviderFactory = func(cfg *config.Config) (identity.Provider, error) {
			return identity.NewMicrosoft(identity.MicrosoftConfig{
				ClientID: cfg.Auth.ClientID,
				Tenant:   cfg.Auth.Tenant,
			})
		}
	}
	if d.SecretsFactory == nil {
		d.SecretsFactory = func(cfg *config.Config) (secret.Store, error) {
			return secret.Open(cfg.Secrets.Backend, cfg.Layout().Secrets())
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(opts observability.Options, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(opts, registrars...)
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// app is the launcher core wired for one command invocation. Components
// that need sign-in configuration are built on first use so that instance
// management works without a client id.
type app struct {
	deps      *Deps
	cfg       *config.Config
	layout    xdg.Layout
	logger    *slog.Logger
	logFile   *os.File
	redaction *redact.Registry
	bus       *events.Bus
	db        *store.Store
	instances *instance.Registry

	creds        *credential.Manager
	orchestrator *launch.Orchestrator
}

func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	return config.Load(deps.configFile, cmd.Flags())
}

// openApp loads configuration, sets up logging and opens the store and the
// instance registry.
func openApp(cmd *cobra.Command, deps *Deps) (*app, error) {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return nil, err
	}

	redaction := redact.NewRegistry(
		redact.WithPlaceholder(cfg.Redaction.Placeholder),
		redact.WithPatterns(redact.DefaultPatterns(cfg.Redaction.Placeholder)...),
		redact.WithClock(deps.Now),
	)

	var logOut io.Writer = cmd.ErrOrStderr()
	var logFile *os.File
	if cfg.Log.File != "" {
		logFile, err = openLogFile(cfg.Log.File)
		if err != nil {
			return nil, err
		}
		logOut = io.MultiWriter(logOut, logFile)
	}
	logger := logging.New(logOut, logging.Options{
		Service:  "ember",
		Version:  version,
		Format:   cfg.Log.Format,
		Level:    cfg.Log.Level,
		Scrubber: redaction,
	})
	slog.SetDefault(logger)

	layout := cfg.Layout()
	db, err := store.Open(store.Options{
		Path:   layout.Database(),
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		closeLogFile(logFile)
		return nil, err
	}

	bus := events.NewBus()
	instances, err := instance.New(instance.Options{
		Store:  db,
		Layout: layout,
		Defaults: instance.Defaults{
			Java: cfg.Launch.Java,
			Memory: instance.Memory{
				Min: cfg.Launch.Memory.Min,
				Max: cfg.Launch.Memory.Max,
			},
			JVMArgs: cfg.Launch.JVMArgs,
		},
		Events: bus,
		Logger: logger,
		Now:    deps.Now,
	})
	if err != nil {
		bus.Close()
		_ = db.Close()
		closeLogFile(logFile)
		return nil, err
	}

	return &app{
		deps:      deps,
		cfg:       cfg,
		layout:    layout,
		logger:    logger,
		logFile:   logFile,
		redaction: redaction,
		bus:       bus,
		db:        db,
		instances: instances,
	}, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, oops.Code("INVALID_CONFIG").With("path", path).Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path comes from the user's own config
	if err != nil {
		return nil, oops.Code("INVALID_CONFIG").With("path", path).Wrap(err)
	}
	return f, nil
}

func closeLogFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// credentials returns the credential manager, creating it on first use.
func (a *app) credentials() (*credential.Manager, error) {
	if a.creds != nil {
		return a.creds, nil
	}
	provider, err := a.deps.ProviderFactory(a.cfg)
	if err != nil {
		return nil, oops.Code("INVALID_CONFIG").Wrap(err)
	}
	secrets, err := a.deps.SecretsFactory(a.cfg)
	if err != nil {
		return nil, credential.ErrSecretStore("open", err)
	}
	creds, err := credential.New(credential.Config{
		Provider:       provider,
		Secrets:        secrets,
		Store:          a.db,
		Redactor:       a.redaction,
		Events:         a.bus,
		Logger:         a.logger,
		Now:            a.deps.Now,
		SafetyWindow:   a.cfg.Auth.SafetyWindow,
		RefreshTimeout: a.cfg.Auth.RefreshTimeout,
		RefreshRetries: a.cfg.Auth.RefreshRetries,
		Grace:          a.cfg.Redaction.Grace,
	})
	if err != nil {
		return nil, err
	}
	a.creds = creds
	return creds, nil
}

// launcher returns the launch orchestrator, creating it on first use.
func (a *app) launcher() (*launch.Orchestrator, error) {
	if a.orchestrator != nil {
		return a.orchestrator, nil
	}
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	o, err := launch.New(launch.Config{
		Sessions:    creds,
		Instances:   a.instances,
		Redaction:   a.redaction,
		Events:      a.bus,
		Logger:      a.logger,
		Now:         a.deps.Now,
		ClientID:    a.cfg.Auth.ClientID,
		StopGrace:   a.cfg.Launch.StopGrace,
		SecretEnv:   a.cfg.Redaction.SecretEnv,
		SecretGrace: a.cfg.Redaction.Grace,
		Filter: redact.FilterOptions{
			LineWindow: a.cfg.Redaction.LineWindow,
			HardWindow: a.cfg.Redaction.HardWindow,
		},
	})
	if err != nil {
		return nil, err
	}
	a.orchestrator = o
	return o, nil
}

// selectAccount resolves the --account flag, falling back to the selected
// account.
func (a *app) selectAccount(ctx context.Context, accountID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	creds, err := a.credentials()
	if err != nil {
		return "", err
	}
	acct, err := creds.SelectedAccount(ctx)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

// Close shuts components down in reverse dependency order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.orchestrator != nil {
		if err := a.orchestrator.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.creds != nil {
		if err := a.creds.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	closeLogFile(a.logFile)
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := openApp(cmd, deps)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cmd.Context(), a)
}
