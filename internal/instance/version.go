// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/emberlaunch/ember/internal/xdg"
)

// VersionDoc is the subset of a game version document the launcher reads.
type VersionDoc struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	MainClass          string          `json:"mainClass"`
	InheritsFrom       string          `json:"inheritsFrom,omitempty"`
	Jar                string          `json:"jar,omitempty"`
	MinecraftArguments string          `json:"minecraftArguments,omitempty"`
	Arguments          *VersionArgs    `json:"arguments,omitempty"`
	Libraries          []Library       `json:"libraries"`
	AssetIndex         AssetIndexRef   `json:"assetIndex"`
	Assets             string          `json:"assets"`
	JavaVersion        *JavaVersionRef `json:"javaVersion,omitempty"`
}

// VersionArgs are the structured argument lists of modern versions.
type VersionArgs struct {
	Game []Argument `json:"game"`
	JVM  []Argument `json:"jvm"`
}

// AssetIndexRef names the asset index a version uses.
type AssetIndexRef struct {
	ID string `json:"id"`
}

// JavaVersionRef names the runtime component a version requires.
type JavaVersionRef struct {
	Component    string `json:"component"`
	MajorVersion int    `json:"majorVersion"`
}

// Argument is a plain string or a rule-guarded list of values.
type Argument struct {
	Rules  []Rule
	Values []string
}

// UnmarshalJSON accepts both argument forms.
func (a *Argument) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		a.Values = []string{plain}
		return nil
	}
	var guarded struct {
		Rules []Rule          `json:"rules"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &guarded); err != nil {
		return fmt.Errorf("argument: %w", err)
	}
	a.Rules = guarded.Rules
	if err := json.Unmarshal(guarded.Value, &plain); err == nil {
		a.Values = []string{plain}
		return nil
	}
	if err := json.Unmarshal(guarded.Value, &a.Values); err != nil {
		return fmt.Errorf("argument value: %w", err)
	}
	return nil
}

// Library is one classpath or native library entry.
type Library struct {
	Name      string            `json:"name"`
	Downloads LibraryDownloads  `json:"downloads"`
	Rules     []Rule            `json:"rules,omitempty"`
	Natives   map[string]string `json:"natives,omitempty"`
}

// LibraryDownloads locates a library's artifacts.
type LibraryDownloads struct {
	Artifact    *Artifact           `json:"artifact,omitempty"`
	Classifiers map[string]Artifact `json:"classifiers,omitempty"`
}

// Artifact is a file relative to the libraries directory.
type Artifact struct {
	Path string `json:"path"`
}

// Rule allows or disallows an entry on matching platforms.
type Rule struct {
	Action   string          `json:"action"`
	OS       *OSRule         `json:"os,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// OSRule matches an operating system, version pattern and architecture.
type OSRule struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Arch    string `json:"arch,omitempty"`
}

// platform is what rules are evaluated against. Features lists the
// optional launcher features in effect; any other is disabled.
type platform struct {
	OS       string // osx, linux or windows
	Arch     string // x86, x86_64 or arm64
	Version  string
	Features map[string]bool
}

func currentPlatform() platform {
	p := platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
	switch runtime.GOOS {
	case "darwin":
		p.OS = "osx"
	}
	switch runtime.GOARCH {
	case "amd64":
		p.Arch = "x86_64"
	case "386":
		p.Arch = "x86"
	}
	return p
}

// allowed evaluates a rule list: the last matching rule wins and an empty
// list allows.
func (p platform) allowed(rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}
	allow := false
	for _, r := range rules {
		if r.matches(p) {
			allow = r.Action == "allow"
		}
	}
	return allow
}

func (r Rule) matches(p platform) bool {
	for name, want := range r.Features {
		if p.Features[name] != want {
			return false
		}
	}
	if r.OS == nil {
		return true
	}
	if r.OS.Name != "" && r.OS.Name != p.OS {
		return false
	}
	if r.OS.Arch != "" && r.OS.Arch != p.Arch {
		return false
	}
	if r.OS.Version != "" {
		re, err := regexp.Compile(r.OS.Version)
		if err != nil || !re.MatchString(p.Version) {
			return false
		}
	}
	return true
}

// LoadVersion reads a version document from path.
func LoadVersion(path string) (*VersionDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc VersionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// maxInheritance bounds inheritsFrom chains.
const maxInheritance = 8

// loadVersionChain reads the version document of id and merges in every
// document it inherits from.
func loadVersionChain(layout xdg.Layout, id string) (*VersionDoc, error) {
	path := layout.VersionManifest(id)
	doc, err := LoadVersion(path)
	if err != nil {
		return nil, versionLoadError(id, path, err)
	}
	seen := map[string]bool{id: true}
	for doc.InheritsFrom != "" {
		parentID := doc.InheritsFrom
		if seen[parentID] || len(seen) > maxInheritance {
			return nil, ErrIncompleteInstallation(id, []string{path + " (inheritance loop through " + parentID + ")"})
		}
		seen[parentID] = true

		parentPath := layout.VersionManifest(parentID)
		parent, err := LoadVersion(parentPath)
		if err != nil {
			return nil, versionLoadError(id, parentPath, err)
		}
		doc = doc.inherit(parent)
	}
	return doc, nil
}

func versionLoadError(id, path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrIncompleteInstallation(id, []string{path})
	}
	return ErrIncompleteInstallation(id, []string{path + " (" + err.Error() + ")"})
}

// inherit merges doc over parent. Fields set in doc win, argument lists
// extend the parent's, and a library of doc replaces every parent library
// with the same group, artifact and classifier. The parent's client jar is
// used unless doc names one.
func (doc *VersionDoc) inherit(parent *VersionDoc) *VersionDoc {
	merged := *parent
	merged.ID = doc.ID
	if doc.Type != "" {
		merged.Type = doc.Type
	}
	if doc.MainClass != "" {
		merged.MainClass = doc.MainClass
	}
	if doc.MinecraftArguments != "" {
		merged.MinecraftArguments = doc.MinecraftArguments
	}
	if doc.AssetIndex.ID != "" {
		merged.AssetIndex = doc.AssetIndex
	}
	if doc.Assets != "" {
		merged.Assets = doc.Assets
	}
	if doc.JavaVersion != nil {
		merged.JavaVersion = doc.JavaVersion
	}

	merged.Jar = doc.Jar
	if merged.Jar == "" {
		merged.Jar = parent.Jar
	}
	if merged.Jar == "" {
		merged.Jar = parent.ID
	}

	if doc.Arguments != nil {
		args := VersionArgs{}
		if parent.Arguments != nil {
			args.Game = slices.Clone(parent.Arguments.Game)
			args.JVM = slices.Clone(parent.Arguments.JVM)
		}
		args.Game = append(args.Game, doc.Arguments.Game...)
		args.JVM = append(args.JVM, doc.Arguments.JVM...)
		merged.Arguments = &args
	}

	overridden := make(map[string]bool, len(doc.Libraries))
	for _, lib := range doc.Libraries {
		overridden[lib.key()] = true
	}
	merged.Libraries = slices.Clone(doc.Libraries)
	for _, lib := range parent.Libraries {
		if !overridden[lib.key()] {
			merged.Libraries = append(merged.Libraries, lib)
		}
	}
	return &merged
}

// key is the library coordinate without its version.
func (lib Library) key() string {
	parts := strings.Split(lib.Name, ":")
	if len(parts) < 3 {
		return lib.Name
	}
	parts = slices.Delete(parts, 2, 3)
	return strings.Join(parts, ":")
}

// nativeClassifier returns the classifier of lib's native artifact for p,
// or "" when it has none.
func (lib Library) nativeClassifier(p platform) string {
	key, ok := lib.Natives[p.OS]
	if !ok {
		return ""
	}
	bits := "64"
	if p.Arch == "x86" {
		bits = "32"
	}
	return strings.ReplaceAll(key, "${arch}", bits)
}
