// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package secret

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Service is the keyring service name under which secrets are filed.
const Service = "ember"

// securityItemNotFound is the exit status of macOS security(1) for a missing item.
const securityItemNotFound = 44

// commandFunc builds an exec.Cmd; tests substitute a fake.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// KeychainStore stores secrets in the macOS login keychain through the
// security(1) tool.
type KeychainStore struct {
	service string
	command commandFunc
}

// NewKeychainStore creates a KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: Service, command: exec.CommandContext}
}

func (s *KeychainStore) account(key Key) string {
	return key.String()
}

// Put implements Store.
func (s *KeychainStore) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	cmd := s.command(ctx, "security", "add-generic-password", "-U",
		"-a", s.account(key), "-s", s.service, "-w", string(value))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain store %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Get implements Store.
func (s *KeychainStore) Get(ctx context.Context, key Key) ([]byte, error) {
	cmd := s.command(ctx, "security", "find-generic-password",
		"-a", s.account(key), "-s", s.service, "-w")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == securityItemNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keychain lookup %s: %w", key, err)
	}
	return bytes.TrimRight(stdout.Bytes(), "\n"), nil
}

// Delete implements Store.
func (s *KeychainStore) Delete(ctx context.Context, key Key) error {
	cmd := s.command(ctx, "security", "delete-generic-password",
		"-a", s.account(key), "-s", s.service)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == securityItemNotFound {
			return nil
		}
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}

// SecretServiceStore stores secrets through the freedesktop Secret Service
// using secret-tool(1). Values travel over stdin, never argv.
type SecretServiceStore struct {
	service string
	command commandFunc
}

// NewSecretServiceStore creates a SecretServiceStore.
func NewSecretServiceStore() *SecretServiceStore {
	return &SecretServiceStore{service: Service, command: exec.CommandContext}
}

func (s *SecretServiceStore) attrs(key Key) []string {
	return []string{"service", s.service, "account", key.Account, "kind", string(key.Kind)}
}

// Put implements Store.
func (s *SecretServiceStore) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	args := append([]string{"store", "--label", "Ember " + key.String()}, s.attrs(key)...)
	cmd := s.command(ctx, "secret-tool", args...)
	cmd.Stdin = bytes.NewReader(value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("secret service store %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Get implements Store. secret-tool exits non-zero with no output when the
// item is missing.
func (s *SecretServiceStore) Get(ctx context.Context, key Key) ([]byte, error) {
	args := append([]string{"lookup"}, s.attrs(key)...)
	cmd := s.command(ctx, "secret-tool", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stdout.Len() == 0 && stderr.Len() == 0 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("secret service lookup %s: %w: %s", key, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Delete implements Store.
func (s *SecretServiceStore) Delete(ctx context.Context, key Key) error {
	args := append([]string{"clear"}, s.attrs(key)...)
	cmd := s.command(ctx, "secret-tool", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(bytes.TrimSpace(out)) == 0 {
			return nil
		}
		return fmt.Errorf("secret service clear %s: %w", key, err)
	}
	return nil
}
