// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package launch starts, supervises and stops game processes. Each running
// instance has exactly one launch session; its combined output is redacted
// before it reaches the launch log or the UI event channel.
package launch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emberlaunch/ember/internal/credential"
	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/instance"
	"github.com/emberlaunch/ember/internal/redact"
	"github.com/emberlaunch/ember/pkg/errutil"
)

var tracer = otel.Tracer("ember/launch")

// Defaults.
const (
	DefaultStopGrace    = 10 * time.Second
	DefaultSecretGrace  = 10 * time.Minute
	DefaultDrainTimeout = 2 * time.Second
)

// Sessions supplies valid game sessions.
type Sessions interface {
	CurrentSession(ctx context.Context, accountID string) (*credential.Session, error)
}

// Instances supplies instance records, launch plans and reservations.
type Instances interface {
	Get(ctx context.Context, id string) (*instance.Instance, error)
	ResolveLaunchPlan(ctx context.Context, id string, ident instance.Identity, opts ...instance.PlanOption) (*instance.LaunchPlan, error)
	Reserve(id string) (release func(), err error)
}

// Config configures an Orchestrator. Sessions, Instances and Redaction are
// required.
type Config struct {
	Sessions  Sessions
	Instances Instances
	Redaction *redact.Registry
	Events    *events.Bus
	Logger    *slog.Logger
	Now       func() time.Time

	// ClientID is passed to the game as ${clientid}.
	ClientID string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
	// SecretEnv are globs of environment variable names whose values are
	// redacted from output while the game runs.
	SecretEnv []string
	// SecretGrace keeps those values redacted after exit. Zero selects
	// DefaultSecretGrace and a negative value retires them immediately.
	SecretGrace time.Duration
	// DrainTimeout bounds reading output after the process exited, for
	// descendants that keep the pipe open.
	DrainTimeout time.Duration
	Filter       redact.FilterOptions
}

// Orchestrator owns every launch session.
type Orchestrator struct {
	cfg       Config
	secretEnv []glob.Glob
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sessions == nil || cfg.Instances == nil || cfg.Redaction == nil {
		return nil, errors.New("launch orchestrator requires sessions, instances and a redaction registry")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.SecretGrace == 0 {
		cfg.SecretGrace = DefaultSecretGrace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Filter.Source == "" {
		cfg.Filter.Source = "game"
	}

	globs := make([]glob.Glob, 0, len(cfg.SecretEnv))
	for _, pattern := range cfg.SecretEnv {
		g, err := glob.Compile(strings.ToUpper(pattern))
		if err != nil {
			return nil, oops.With("pattern", pattern).Wrapf(err, "invalid secret environment pattern")
		}
		globs = append(globs, g)
	}

	return &Orchestrator{
		cfg:       cfg,
		secretEnv: globs,
		logger:    cfg.Logger.With("component", "launch"),
		sessions:  make(map[string]*Session),
	}, nil
}

// Launch starts an instance for an account. It refreshes the account's
// session first and never starts the game with a stale token. opts reach
// the plan resolution, for example a quick play target.
func (o *Orchestrator) Launch(ctx context.Context, instanceID, accountID string, opts ...instance.PlanOption) (sess *Session, err error) {
	ctx, span := tracer.Start(ctx, "launch.start",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.String("account.id", accountID),
		),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = resultLabel(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		launches.WithLabelValues(result).Inc()
		span.End()
	}()

	if o.isClosed() {
		return nil, ErrClosed()
	}
	if o.lookup(instanceID) != nil {
		return nil, ErrAlreadyRunning(instanceID)
	}

	cs, err := o.cfg.Sessions.CurrentSession(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer cs.Destroy()
	token, err := cs.AccessToken()
	if err != nil {
		return nil, oops.With("account_id", accountID).Wrapf(err, "read session token")
	}

	inst, err := o.cfg.Instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	plan, err := o.cfg.Instances.ResolveLaunchPlan(ctx, instanceID, instance.Identity{
		PlayerName:  cs.PlayerName,
		PlayerID:    cs.PlayerID,
		AccessToken: token,
		XUID:        cs.XUID,
		UserType:    cs.UserType,
		ClientID:    o.cfg.ClientID,
	}, opts...)
	if err != nil {
		return nil, err
	}

	sess, release, err := o.register(instanceID, accountID)
	if err != nil {
		return nil, err
	}
	if err := o.start(ctx, sess, inst, plan, release); err != nil {
		o.unregister(sess)
		release()
		sess.finish(Outcome{Kind: OutcomeAbnormal, ExitCode: -1, StartedAt: sess.StartedAt, EndedAt: o.cfg.Now()})
		o.wg.Done()
		return nil, err
	}

	span.SetAttributes(attribute.Int("process.pid", sess.PID()))
	o.logger.InfoContext(ctx, "instance launched",
		"instance_id", instanceID,
		"account_id", accountID,
		"pid", sess.PID(),
		"version", plan.VersionID,
		"log", sess.LogPath,
	)
	return sess, nil
}

// register reserves the instance and records its session in one step.
func (o *Orchestrator) register(instanceID, accountID string) (*Session, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, ErrClosed()
	}
	if _, ok := o.sessions[instanceID]; ok {
		return nil, nil, ErrAlreadyRunning(instanceID)
	}
	release, err := o.cfg.Instances.Reserve(instanceID)
	if err != nil {
		return nil, nil, err
	}
	sess := newSession(instanceID, accountID, o.cfg.Now())
	o.sessions[instanceID] = sess
	o.wg.Add(1)
	return sess, release, nil
}

func (o *Orchestrator) unregister(sess *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[sess.InstanceID] == sess {
		delete(o.sessions, sess.InstanceID)
	}
}

// start spawns the process and hands it to a supervisor.
func (o *Orchestrator) start(ctx context.Context, sess *Session, inst *instance.Instance, plan *instance.LaunchPlan, release func()) error {
	env := append(os.Environ(), plan.Env...)
	secrets := o.secretValues(env)
	o.cfg.Redaction.Publish(secrets...)
	retire := func() { o.cfg.Redaction.Retire(o.cfg.SecretGrace, secrets...) }

	logFile, err := openLog(inst.LogDir(), sess.StartedAt)
	if err != nil {
		retire()
		return ErrSpawnFailed(sess.InstanceID, err)
	}
	sess.LogPath = logFile.Name()

	pr, pw, err := os.Pipe()
	if err != nil {
		_ = logFile.Close()
		retire()
		return ErrSpawnFailed(sess.InstanceID, err)
	}

	cmd := exec.Command(plan.Java, plan.Args()...)
	cmd.Dir = plan.Dir
	cmd.Env = env
	cmd.Stdout = pw
	cmd.Stderr = pw
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		_ = logFile.Close()
		retire()
		return ErrSpawnFailed(sess.InstanceID, err)
	}
	_ = pw.Close()
	if err := sess.started(cmd.Process); err != nil {
		o.logger.Warn("signalling instance failed", "instance_id", sess.InstanceID, "error", err)
	}

	filter := redact.NewFilter(o.cfg.Redaction, hubWriter{hub: sess.hub}, o.cfg.Filter)
	var consumers sync.WaitGroup
	logSub := sess.hub.Subscribe()
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		writeLog(logSub, logFile, o.logger)
	}()
	if o.cfg.Events != nil {
		lineSub := sess.hub.Subscribe()
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			publishLines(lineSub, o.cfg.Events, sess.InstanceID)
		}()
	}

	running.Inc()
	o.publish(events.ProcessStateChange{
		InstanceID: sess.InstanceID,
		State:      events.StateRunning,
		PID:        cmd.Process.Pid,
	})

	go o.supervise(sess, cmd, pr, filter, &consumers, logFile, retire, release)
	return nil
}

// supervise runs the output reader and the exit watcher, then tears the
// session down once both finished.
func (o *Orchestrator) supervise(sess *Session, cmd *exec.Cmd, pr *os.File, filter *redact.Filter,
	consumers *sync.WaitGroup, logFile *os.File, retire, release func(),
) {
	defer o.wg.Done()

	var g errgroup.Group
	g.Go(func() error {
		return copyOutput(filter, pr)
	})
	g.Go(func() error {
		err := cmd.Wait()
		_ = pr.SetReadDeadline(time.Now().Add(o.cfg.DrainTimeout))
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		o.logger.Warn("launch supervision error", "instance_id", sess.InstanceID, "error", err)
	}
	forced := sess.markExited()

	_ = pr.Close()
	if err := filter.Close(); err != nil {
		o.logger.Warn("flushing game output failed", "instance_id", sess.InstanceID, "error", err)
	}
	sess.hub.Close()
	consumers.Wait()
	if err := logFile.Close(); err != nil {
		o.logger.Warn("closing launch log failed", "path", logFile.Name(), "error", err)
	}
	retire()

	outcome := Outcome{
		ExitCode:  -1,
		StartedAt: sess.StartedAt,
		EndedAt:   o.cfg.Now(),
	}
	if state := cmd.ProcessState; state != nil {
		outcome.ExitCode = state.ExitCode()
		outcome.Signal = exitSignal(state)
	}
	// A kill that raced a normal exit does not make the exit abnormal.
	outcome.Forced = forced && outcome.ExitCode != 0
	outcome.Kind = classify(outcome.ExitCode, outcome.Signal, outcome.Forced)

	running.Dec()
	exits.WithLabelValues(string(outcome.Kind)).Inc()
	sessionDuration.Observe(outcome.Duration().Seconds())
	o.logger.Info("instance exited",
		"instance_id", sess.InstanceID,
		"outcome", outcome.Kind,
		"exit_code", outcome.ExitCode,
		"signal", outcome.Signal,
		"duration", outcome.Duration(),
	)

	change := events.ProcessStateChange{
		InstanceID: sess.InstanceID,
		State:      events.StateExited,
		PID:        sess.PID(),
		Outcome:    string(outcome.Kind),
		Signal:     outcome.Signal,
	}
	if outcome.ExitCode > 0 {
		change.ExitCode = outcome.ExitCode
	}
	o.publish(change)

	o.unregister(sess)
	release()
	sess.finish(outcome)
}

// secretValues returns the values of environment entries whose names match
// a secret pattern.
func (o *Orchestrator) secretValues(env []string) []string {
	if len(o.secretEnv) == 0 {
		return nil
	}
	var out []string
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		upper := strings.ToUpper(name)
		for _, g := range o.secretEnv {
			if g.Match(upper) {
				out = append(out, value)
				break
			}
		}
	}
	return out
}

// Stop terminates a running instance: SIGTERM to its process group, then
// SIGKILL once the stop grace passed. It waits for the exit and may be
// called repeatedly.
func (o *Orchestrator) Stop(ctx context.Context, instanceID string) error {
	sess := o.lookup(instanceID)
	if sess == nil {
		return ErrNotRunning(instanceID)
	}
	initiated, err := sess.requestStop(o.cfg.StopGrace)
	if err != nil {
		o.logger.Warn("signalling instance failed", "instance_id", instanceID, "error", err)
	}
	if initiated {
		o.logger.InfoContext(ctx, "stopping instance", "instance_id", instanceID, "grace", o.cfg.StopGrace)
		o.publish(events.ProcessStateChange{
			InstanceID: instanceID,
			State:      events.StateStopping,
			PID:        sess.PID(),
		})
	}
	_, err = sess.Wait(ctx)
	return err
}

// Wait blocks until a running instance exits.
func (o *Orchestrator) Wait(ctx context.Context, instanceID string) (Outcome, error) {
	sess := o.lookup(instanceID)
	if sess == nil {
		return Outcome{}, ErrNotRunning(instanceID)
	}
	return sess.Wait(ctx)
}

// Running returns the live sessions sorted by instance id.
func (o *Orchestrator) Running() []*Session {
	o.mu.Lock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Session returns the live session of an instance.
func (o *Orchestrator) Session(instanceID string) (*Session, error) {
	sess := o.lookup(instanceID)
	if sess == nil {
		return nil, ErrNotRunning(instanceID)
	}
	return sess, nil
}

// Close refuses new launches, stops every running instance and waits for
// their teardown.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range o.Running() {
		id := sess.InstanceID
		g.Go(func() error {
			err := o.Stop(gctx, id)
			if errutil.HasCode(err, CodeNotRunning) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Wrapf(ctx.Err(), "waiting for launch sessions to end")
	}
}

func (o *Orchestrator) lookup(instanceID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[instanceID]
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) publish(change events.ProcessStateChange) {
	if o.cfg.Events != nil {
		o.cfg.Events.ProcessChanged(change)
	}
}

func resultLabel(err error) string {
	if code := errutil.Code(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
