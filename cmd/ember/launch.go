// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/emberlaunch/ember/internal/credential"
	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/fanout"
	"github.com/emberlaunch/ember/internal/instance"
	"github.com/emberlaunch/ember/internal/launch"
	"github.com/emberlaunch/ember/internal/observability"
	"github.com/emberlaunch/ember/internal/redact"
	"github.com/emberlaunch/ember/internal/xdg"
	"github.com/emberlaunch/ember/pkg/errutil"
)

// planConfig holds configuration for the plan command.
type planConfig struct {
	accountID string
	command   bool
	quickPlay instance.QuickPlay
}

func newPlanCmd(deps *Deps) *cobra.Command {
	cfg := &planConfig{}

	cmd := &cobra.Command{
		Use:   "plan <instance-id>",
		Short: "Print the launch plan of an instance without starting it",
		Long: `Resolve the command line, classpath and environment a launch would use.
Session tokens in the output are redacted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				return runPlan(ctx, cmd, a, args[0], cfg)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.accountID, "account", "", "account to resolve the plan for (default: selected account)")
	cmd.Flags().BoolVar(&cfg.command, "command", false, "print the command line only")
	addQuickPlayFlags(cmd, &cfg.quickPlay)

	return cmd
}

func runPlan(ctx context.Context, cmd *cobra.Command, a *app, instanceID string, cfg *planConfig) error {
	accountID, err := a.selectAccount(ctx, cfg.accountID)
	if err != nil {
		return err
	}
	creds, err := a.credentials()
	if err != nil {
		return err
	}

	sess, err := creds.CurrentSession(ctx, accountID)
	if err != nil {
		return err
	}
	defer sess.Destroy()

	ident, err := identityOf(sess, a.cfg.Auth.ClientID)
	if err != nil {
		return err
	}
	plan, err := a.instances.ResolveLaunchPlan(ctx, instanceID, ident, instance.WithQuickPlay(cfg.quickPlay))
	if err != nil {
		return err
	}

	// Everything printed goes through the redaction filter, which already
	// knows the session's token.
	out := redact.NewFilter(a.redaction, cmd.OutOrStdout(), redact.FilterOptions{Source: "cli"})
	defer func() { _ = out.Close() }()

	if cfg.command {
		_, err = fmt.Fprintln(out, strings.Join(plan.Command(), " "))
		return err
	}
	return writeJSON(out, plan)
}

// addQuickPlayFlags registers the mutually exclusive quick play targets.
func addQuickPlayFlags(cmd *cobra.Command, q *instance.QuickPlay) {
	cmd.Flags().StringVar(&q.World, "world", "", "open this singleplayer world on start")
	cmd.Flags().StringVar(&q.Server, "server", "", "join this multiplayer server (host[:port]) on start")
	cmd.Flags().StringVar(&q.Realm, "realm", "", "join this realm on start")
	cmd.MarkFlagsMutuallyExclusive("world", "server", "realm")
}

func identityOf(sess *credential.Session, clientID string) (instance.Identity, error) {
	token, err := sess.AccessToken()
	if err != nil {
		return instance.Identity{}, err
	}
	return instance.Identity{
		PlayerName:  sess.PlayerName,
		PlayerID:    sess.PlayerID,
		AccessToken: token,
		XUID:        sess.XUID,
		UserType:    sess.UserType,
		ClientID:    clientID,
	}, nil
}

// launchConfig holds configuration for the launch command.
type launchConfig struct {
	accountID string
	quiet     bool
	quickPlay instance.QuickPlay
}

func newLaunchCmd(deps *Deps) *cobra.Command {
	cfg := &launchConfig{}

	cmd := &cobra.Command{
		Use:   "launch <instance-id>",
		Short: "Launch an instance and follow its output",
		Long: `Launch an instance and stream its redacted output until the game exits.
Interrupting the command stops the game gracefully; so does 'ember stop'
from another terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				return runLaunch(ctx, cmd, a, args[0], cfg)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.accountID, "account", "", "account to play with (default: selected account)")
	cmd.Flags().BoolVarP(&cfg.quiet, "quiet", "q", false, "do not print game output")
	addQuickPlayFlags(cmd, &cfg.quickPlay)

	return cmd
}

func runLaunch(ctx context.Context, cmd *cobra.Command, a *app, instanceID string, cfg *launchConfig) error {
	accountID, err := a.selectAccount(ctx, cfg.accountID)
	if err != nil {
		return err
	}
	orchestrator, err := a.launcher()
	if err != nil {
		return err
	}

	if a.cfg.Metrics.Addr != "" {
		stopMetrics, err := startMetrics(a, orchestrator)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	// Subscribe before launching so no output line is missed.
	sub := a.bus.Subscribe()
	defer sub.Unsubscribe()

	sess, err := orchestrator.Launch(ctx, instanceID, accountID, instance.WithQuickPlay(cfg.quickPlay))
	if err != nil {
		return err
	}

	pidFile := a.layout.PIDFile(instanceID)
	if err := writePIDFile(pidFile); err != nil {
		a.logger.Warn("failed to write pid file", "path", pidFile, "error", err)
	}
	defer func() { _ = os.Remove(pidFile) }()

	cmd.PrintErrf("Launched %s (pid %d), logging to %s\n", instanceID, sess.PID(), sess.LogPath)

	out := cmd.OutOrStdout()
	if cfg.quiet {
		out = io.Discard
	}
	interrupted := ctx.Done()
	requested := false
	for {
		select {
		case <-interrupted:
			interrupted = nil
			requested = true
			cmd.PrintErrln("Stopping...")
			go func() {
				if err := orchestrator.Stop(context.Background(), instanceID); err != nil && !errutil.HasCode(err, launch.CodeNotRunning) {
					errutil.LogError(a.logger, "stop failed", err, "instance_id", instanceID)
				}
			}()
		case e, ok := <-sub.C():
			if !ok || printEvent(out, instanceID, e) {
				return finish(cmd, sess, out, sub, requested)
			}
		case <-sess.Done():
			return finish(cmd, sess, out, sub, requested)
		}
	}
}

// printEvent prints one bus event and reports whether the instance exited.
func printEvent(out io.Writer, instanceID string, e events.Event) bool {
	switch {
	case e.Output != nil && e.Output.InstanceID == instanceID:
		_, _ = fmt.Fprintln(out, e.Output.Text)
	case e.Process != nil && e.Process.InstanceID == instanceID:
		return e.Process.State == events.StateExited
	}
	return false
}

// finish prints output still buffered in sub and turns the outcome into the
// command result. An abnormal exit the user asked for is not an error.
func finish(cmd *cobra.Command, sess *launch.Session, out io.Writer, sub *fanout.Subscription[events.Event], requested bool) error {
	o, err := sess.Wait(context.Background())
	if err != nil {
		return err
	}
drain:
	for {
		select {
		case e, ok := <-sub.C():
			if !ok || printEvent(out, sess.InstanceID, e) {
				break drain
			}
		default:
			break drain
		}
	}

	cmd.PrintErrf("Game %s after %s\n", o, o.Duration().Round(time.Second))
	switch {
	case o.Kind == launch.OutcomeClean:
		return nil
	case o.Kind == launch.OutcomeAbnormal && requested:
		return nil
	default:
		return launch.ErrGameFailed(sess.InstanceID, o)
	}
}

// runningView is one entry of the metrics server's /status document.
type runningView struct {
	InstanceID string    `json:"instance_id"`
	AccountID  string    `json:"account_id"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	LogPath    string    `json:"log_path"`
}

func runningViews(o *launch.Orchestrator) []runningView {
	sessions := o.Running()
	views := make([]runningView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, runningView{
			InstanceID: s.InstanceID,
			AccountID:  s.AccountID,
			PID:        s.PID(),
			StartedAt:  s.StartedAt,
			LogPath:    s.LogPath,
		})
	}
	return views
}

func startMetrics(a *app, o *launch.Orchestrator) (func(), error) {
	opts := observability.Options{
		Addr:   a.cfg.Metrics.Addr,
		Status: func() any { return runningViews(o) },
		Logger: a.logger.With("component", "metrics"),
	}
	srv := a.deps.ObservabilityServerFactory(opts, redact.RegisterMetrics, credential.RegisterMetrics, launch.RegisterMetrics)
	errCh, err := srv.Start()
	if err != nil {
		return nil, oops.With("addr", a.cfg.Metrics.Addr).Wrapf(err, "start metrics server")
	}
	a.logger.Info("metrics server listening", "addr", srv.Addr())
	go func() {
		for err := range errCh {
			errutil.LogError(a.logger, "metrics server error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}, nil
}

func writePIDFile(path string) error {
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, oops.With("path", path).Errorf("malformed pid file")
	}
	return pid, nil
}

func newStopCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <instance-id>",
		Short: "Stop an instance started by 'ember launch'",
		Long: `Ask the ember process running an instance to stop it. The game gets the
configured grace period to exit before it is killed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, deps, args[0])
		},
	}
}

// runStop signals the supervising ember process. It does not open the
// store, which that process holds locked.
func runStop(cmd *cobra.Command, deps *Deps, instanceID string) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	path := cfg.Layout().PIDFile(instanceID)
	pid, err := readPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return launch.ErrNotRunning(instanceID)
	}
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return launch.ErrNotRunning(instanceID)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = os.Remove(path)
			return launch.ErrNotRunning(instanceID)
		}
		return oops.With("instance_id", instanceID, "pid", pid).Wrapf(err, "signal launcher process")
	}
	cmd.Printf("Stopping %s\n", instanceID)
	return nil
}

func newEventsCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Watch instance manifests and print launcher events as JSON lines",
		Long: `Watch every instance directory for manifest edits, reload changed
instances and print each launcher event as one JSON object per line until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				return runEvents(ctx, cmd, a)
			})
		},
	}
}

func runEvents(ctx context.Context, cmd *cobra.Command, a *app) error {
	sub := a.bus.Subscribe()
	defer sub.Unsubscribe()

	watcher, err := a.instances.NewWatcher(instance.DefaultDebounce)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()
	a.logger.Info("watching instances", "count", watcher.Watched())

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
}
