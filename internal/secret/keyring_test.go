// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package secret

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommand re-executes the test binary as a stand-in for security(1) and
// secret-tool(1). The helper records argv and stdin to recordPath.
func fakeCommand(t *testing.T, mode string) (commandFunc, string) {
	t.Helper()
	recordPath := filepath.Join(t.TempDir(), "record")
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"EMBER_WANT_HELPER_PROCESS=1",
			"EMBER_HELPER_MODE="+mode,
			"EMBER_HELPER_RECORD="+recordPath,
		)
		return cmd
	}, recordPath
}

func TestHelperProcess(_ *testing.T) {
	if os.Getenv("EMBER_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	stdin, _ := io.ReadAll(os.Stdin)
	_ = os.WriteFile(os.Getenv("EMBER_HELPER_RECORD"),
		[]byte(strings.Join(args, " ")+"\n"+string(stdin)), 0o600)

	switch os.Getenv("EMBER_HELPER_MODE") {
	case "found":
		fmt.Println("s3cret-value")
		os.Exit(0)
	case "missing-keychain":
		os.Exit(securityItemNotFound)
	case "missing-secret-tool":
		os.Exit(1)
	case "broken":
		fmt.Fprintln(os.Stderr, "daemon unavailable")
		os.Exit(2)
	}
	os.Exit(0)
}

func readRecord(t *testing.T, path string) (argv, stdin string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	argv, stdin, _ = strings.Cut(string(raw), "\n")
	return argv, stdin
}

func TestKeychainStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get found", func(t *testing.T) {
		cmd, _ := fakeCommand(t, "found")
		s := &KeychainStore{service: Service, command: cmd}
		got, err := s.Get(ctx, refreshKey)
		require.NoError(t, err)
		assert.Equal(t, "s3cret-value", string(got))
	})

	t.Run("get missing", func(t *testing.T) {
		cmd, _ := fakeCommand(t, "missing-keychain")
		s := &KeychainStore{service: Service, command: cmd}
		_, err := s.Get(ctx, refreshKey)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing is not an error", func(t *testing.T) {
		cmd, _ := fakeCommand(t, "missing-keychain")
		s := &KeychainStore{service: Service, command: cmd}
		assert.NoError(t, s.Delete(ctx, refreshKey))
	})

	t.Run("put uses update flag", func(t *testing.T) {
		cmd, record := fakeCommand(t, "ok")
		s := &KeychainStore{service: Service, command: cmd}
		require.NoError(t, s.Put(ctx, refreshKey, []byte("tok")))
		argv, _ := readRecord(t, record)
		assert.Contains(t, argv, "security add-generic-password -U")
		assert.Contains(t, argv, "-s ember")
	})
}

func TestSecretServiceStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put sends value on stdin", func(t *testing.T) {
		cmd, record := fakeCommand(t, "ok")
		s := &SecretServiceStore{service: Service, command: cmd}
		require.NoError(t, s.Put(ctx, refreshKey, []byte("refresh-canary")))
		argv, stdin := readRecord(t, record)
		assert.NotContains(t, argv, "refresh-canary")
		assert.Equal(t, "refresh-canary", stdin)
		assert.Contains(t, argv, "account 0f1e2d3c kind refresh-token")
	})

	t.Run("get missing", func(t *testing.T) {
		cmd, _ := fakeCommand(t, "missing-secret-tool")
		s := &SecretServiceStore{service: Service, command: cmd}
		_, err := s.Get(ctx, refreshKey)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get backend failure", func(t *testing.T) {
		cmd, _ := fakeCommand(t, "broken")
		s := &SecretServiceStore{service: Service, command: cmd}
		_, err := s.Get(ctx, refreshKey)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}
