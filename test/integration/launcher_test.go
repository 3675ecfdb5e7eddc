// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build integration && unix

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/emberlaunch/ember/internal/credential"
	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/identity/identitytest"
	"github.com/emberlaunch/ember/internal/instance"
	"github.com/emberlaunch/ember/internal/launch"
	"github.com/emberlaunch/ember/internal/redact"
	"github.com/emberlaunch/ember/internal/secret"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/internal/xdg"
)

// gameScript stands in for the java executable. It echoes what a game would
// log about its arguments and environment.
const gameScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --accessToken) echo "Connecting with token $2" ;;
    --username) echo "Setting user: $2" ;;
  esac
  shift
done
echo "secret is $GAME_SECRET"
exit "${GAME_EXIT:-0}"
`

// launcher is the core wired over one data directory, the way the CLI
// wires it.
type launcher struct {
	layout    xdg.Layout
	db        *store.Store
	secrets   secret.Store
	bus       *events.Bus
	redaction *redact.Registry
	creds     *credential.Manager
	instances *instance.Registry
	orch      *launch.Orchestrator
}

func openLauncher(dir string, provider *identitytest.Provider) *launcher {
	l := &launcher{layout: xdg.Layout{Root: dir}, bus: events.NewBus()}

	var err error
	l.db, err = store.Open(store.Options{Path: l.layout.Database()})
	Expect(err).NotTo(HaveOccurred())
	l.secrets, err = secret.NewFileStore(l.layout.Secrets())
	Expect(err).NotTo(HaveOccurred())

	l.redaction = redact.NewRegistry(redact.WithPatterns(redact.DefaultPatterns(redact.DefaultPlaceholder)...))
	l.creds, err = credential.New(credential.Config{
		Provider:       provider,
		Secrets:        l.secrets,
		Store:          l.db,
		Redactor:       l.redaction,
		Events:         l.bus,
		RefreshBackoff: time.Millisecond,
	})
	Expect(err).NotTo(HaveOccurred())

	l.instances, err = instance.New(instance.Options{Store: l.db, Layout: l.layout, Events: l.bus})
	Expect(err).NotTo(HaveOccurred())

	l.orch, err = launch.New(launch.Config{
		Sessions:     l.creds,
		Instances:    l.instances,
		Redaction:    l.redaction,
		Events:       l.bus,
		StopGrace:    2 * time.Second,
		SecretEnv:    []string{"*SECRET*"},
		DrainTimeout: 200 * time.Millisecond,
	})
	Expect(err).NotTo(HaveOccurred())
	return l
}

func (l *launcher) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	Expect(l.orch.Close(ctx)).To(Succeed())
	Expect(l.creds.Close()).To(Succeed())
	l.bus.Close()
	Expect(l.db.Close()).To(Succeed())
}

// installGame lays out a legacy game version and returns the stand-in java.
func installGame(layout xdg.Layout, version string) string {
	doc := `{
  "id": "` + version + `",
  "type": "release",
  "mainClass": "net.minecraft.launchwrapper.Launch",
  "minecraftArguments": "--username ${auth_player_name} --version ${version_name} --accessToken ${auth_access_token} --userType ${user_type}",
  "assetIndex": {"id": "1.12"}
}`
	files := map[string]string{
		layout.VersionManifest(version):                   doc,
		layout.ClientJar(version):                         "jar",
		filepath.Join(layout.AssetIndexes(), "1.12.json"): "{}",
		filepath.Join(layout.Root, "bin", "java"):         gameScript,
	}
	for path, content := range files {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o755)).To(Succeed())
	}
	return filepath.Join(layout.Root, "bin", "java")
}

// follow collects the output lines of instanceID until its exit event.
func follow(sub interface{ C() <-chan events.Event }, instanceID string) []string {
	var lines []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-sub.C():
			if e.Output != nil && e.Output.InstanceID == instanceID {
				lines = append(lines, e.Output.Text)
			}
			if e.Process != nil && e.Process.InstanceID == instanceID && e.Process.State == events.StateExited {
				return lines
			}
		case <-timeout:
			Fail("no exit event for " + instanceID)
			return lines
		}
	}
}

var _ = Describe("Launcher", func() {
	var (
		ctx      context.Context
		dir      string
		provider *identitytest.Provider
		java     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		provider = &identitytest.Provider{}
		java = installGame(xdg.Layout{Root: dir}, "1.12.2")
	})

	// signIn authenticates one account and creates one instance, then shuts
	// the launcher down so later steps start from disk.
	signIn := func(env map[string]string) (*credential.Account, *instance.Instance) {
		l := openLauncher(dir, provider)
		defer l.close()

		acct, err := l.creds.Authenticate(ctx, credential.AuthOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.creds.SelectAccount(ctx, acct.ID)).To(Succeed())

		inst, err := l.instances.Create(ctx, instance.Spec{
			Name:    "survival-world",
			Version: "1.12.2",
			Launch:  instance.Overrides{Java: java, Env: env},
		})
		Expect(err).NotTo(HaveOccurred())
		return acct, inst
	}

	It("launches after a restart with a refreshed token that never reaches output", func() {
		acct, inst := signIn(map[string]string{"GAME_SECRET": "hunter2-value"})

		l := openLauncher(dir, provider)
		defer l.close()

		selected, err := l.creds.SelectedAccount(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(selected.ID).To(Equal(acct.ID))
		Expect(l.instances.List(ctx)).To(HaveLen(1))

		sub := l.bus.Subscribe()
		defer sub.Unsubscribe()

		sess, err := l.orch.Launch(ctx, inst.ID, acct.ID)
		Expect(err).NotTo(HaveOccurred())
		lines := follow(sub, inst.ID)

		outcome, err := sess.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind).To(Equal(launch.OutcomeClean))
		Expect(provider.Refreshes()).To(BeNumerically(">=", 1))

		Expect(lines).To(ContainElements(
			"Setting user: player",
			"Connecting with token [REDACTED]",
			"secret is [REDACTED]",
		))

		logData, err := os.ReadFile(sess.LogPath)
		Expect(err).NotTo(HaveOccurred())
		log := string(logData)
		Expect(log).To(ContainSubstring("Connecting with token [REDACTED]"))
		for _, text := range append(lines, log) {
			Expect(text).NotTo(ContainSubstring("access-player-"))
			Expect(text).NotTo(ContainSubstring("hunter2-value"))
		}
		Expect(filepath.Dir(sess.LogPath)).To(Equal(filepath.Join(inst.Root, instance.LogDirName)))
	})

	It("reports a failing game and releases the instance", func() {
		acct, inst := signIn(map[string]string{"GAME_EXIT": "1"})

		l := openLauncher(dir, provider)
		defer l.close()

		for range 2 {
			sess, err := l.orch.Launch(ctx, inst.ID, acct.ID)
			Expect(err).NotTo(HaveOccurred())
			outcome, err := sess.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(launch.OutcomeNonZero))
			Expect(outcome.ExitCode).To(Equal(1))
			Expect(l.orch.Running()).To(BeEmpty())
		}
	})

	It("forgets the encrypted credential on logout", func() {
		acct, inst := signIn(nil)

		l := openLauncher(dir, provider)
		Expect(l.creds.Logout(ctx, acct.ID)).To(Succeed())
		_, err := l.secrets.Get(ctx, acct.CredentialRef)
		Expect(errors.Is(err, secret.ErrNotFound)).To(BeTrue())
		l.close()

		l = openLauncher(dir, provider)
		defer l.close()

		_, err = l.orch.Launch(ctx, inst.ID, acct.ID)
		Expect(err).To(HaveOccurred())
		Expect(l.orch.Running()).To(BeEmpty())

		entries, _ := os.ReadDir(filepath.Join(inst.Root, instance.LogDirName))
		Expect(entries).To(BeEmpty(), "no launch log was opened")
	})

	It("reloads a manifest edited on disk", func() {
		_, inst := signIn(nil)

		l := openLauncher(dir, provider)
		defer l.close()

		w, err := l.instances.NewWatcher(20 * time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Start(ctx)).To(Succeed())
		defer w.Stop()

		m, err := instance.ReadManifest(inst.Root)
		Expect(err).NotTo(HaveOccurred())
		m.Name = "renamed-world"
		Expect(instance.WriteManifest(inst.Root, m)).To(Succeed())

		Eventually(func() string {
			got, err := l.instances.Get(ctx, inst.ID)
			if err != nil {
				return ""
			}
			return got.Name
		}, 5*time.Second, 20*time.Millisecond).Should(Equal("renamed-world"))
	})
})
