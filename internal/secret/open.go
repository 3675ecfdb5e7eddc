// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package secret

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Backend names accepted by Open.
const (
	BackendAuto      = "auto"
	BackendKeychain  = "keychain"
	BackendLibsecret = "libsecret"
	BackendFile      = "file"
	BackendMemory    = "memory"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Detect returns the preferred backend on this host: the platform keyring
// when its tool is installed, otherwise the encrypted file store.
func Detect() string {
	switch runtime.GOOS {
	case "darwin":
		if _, err := lookPath("security"); err == nil {
			return BackendKeychain
		}
	case "linux", "freebsd", "openbsd":
		if _, err := lookPath("secret-tool"); err == nil {
			return BackendLibsecret
		}
	}
	return BackendFile
}

// Open returns the Store for backend. fileDir is used by the file backend.
func Open(backend, fileDir string) (Store, error) {
	if backend == BackendAuto || backend == "" {
		backend = Detect()
	}
	slog.Debug("opening secret store", "backend", backend)

	switch backend {
	case BackendKeychain:
		return NewKeychainStore(), nil
	case BackendLibsecret:
		return NewSecretServiceStore(), nil
	case BackendFile:
		return NewFileStore(fileDir)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret backend %q", backend)
	}
}
