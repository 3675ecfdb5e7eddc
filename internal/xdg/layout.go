// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package xdg

import (
	"path/filepath"
	"runtime"
)

// Layout is the on-disk arrangement of a launcher data directory. Game
// installations (versions, libraries, assets, runtimes) are shared by every
// instance and only read by the launcher core.
type Layout struct {
	Root string
}

// DefaultLayout returns the layout rooted at DataDir().
func DefaultLayout() (Layout, error) {
	root, err := DataDir()
	if err != nil {
		return Layout{}, err
	}
	return Layout{Root: root}, nil
}

// Instances is the default parent directory for instance roots.
func (l Layout) Instances() string { return filepath.Join(l.Root, "instances") }

// Versions holds <id>/<id>.json and <id>/<id>.jar.
func (l Layout) Versions() string { return filepath.Join(l.Root, "versions") }

// Libraries holds maven-layout library jars.
func (l Layout) Libraries() string { return filepath.Join(l.Root, "libraries") }

// Assets is the assets root passed to the game.
func (l Layout) Assets() string { return filepath.Join(l.Root, "assets") }

// AssetIndexes holds asset index documents.
func (l Layout) AssetIndexes() string { return filepath.Join(l.Assets(), "indexes") }

// Runtimes holds bundled Java runtimes.
func (l Layout) Runtimes() string { return filepath.Join(l.Root, "runtime") }

// Natives is the scratch directory for extracted native libraries.
func (l Layout) Natives() string { return filepath.Join(l.Root, "temp", "natives") }

// Database is the durable store directory.
func (l Layout) Database() string { return filepath.Join(l.Root, "db") }

// Secrets is the encrypted file secret store directory.
func (l Layout) Secrets() string { return filepath.Join(l.Root, "secrets") }

// Run holds pid files of foreground launch sessions.
func (l Layout) Run() string { return filepath.Join(l.Root, "run") }

// PIDFile is the pid file of the process supervising an instance.
func (l Layout) PIDFile(instanceID string) string {
	return filepath.Join(l.Run(), instanceID+".pid")
}

// VersionManifest returns the path of a version document.
func (l Layout) VersionManifest(id string) string {
	return filepath.Join(l.Versions(), id, id+".json")
}

// ClientJar returns the path of a version's client jar.
func (l Layout) ClientJar(id string) string {
	return filepath.Join(l.Versions(), id, id+".jar")
}

// JavaBinary returns the java executable of a bundled runtime component.
func (l Layout) JavaBinary(component string) string {
	base := filepath.Join(l.Runtimes(), component, RuntimePlatform())
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(base, "bin", "javaw.exe")
	case "darwin":
		return filepath.Join(base, "jre.bundle", "Contents", "Home", "bin", "java")
	default:
		return filepath.Join(base, "bin", "java")
	}
}

// RuntimePlatform returns the runtime platform key used by the game's
// runtime manifests.
func RuntimePlatform() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-os-arm64"
		}
		return "mac-os"
	case "windows":
		switch runtime.GOARCH {
		case "386":
			return "windows-x86"
		case "arm64":
			return "windows-arm64"
		}
		return "windows-x64"
	default:
		if runtime.GOARCH == "386" {
			return "linux-i386"
		}
		return "linux"
	}
}
