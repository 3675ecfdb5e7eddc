// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Names inside an instance root.
const (
	ManifestFile = "instance.yaml"
	GameDirName  = ".minecraft"
	LogDirName   = "logs"
)

// Manifest is the instance.yaml document that makes a directory an
// instance. The root directory itself is implied by its location.
type Manifest struct {
	ID       string            `json:"id,omitempty" yaml:"id,omitempty" jsonschema:"pattern=^[0-9A-HJKMNP-TV-Z]{26}$"`
	Name     string            `json:"name" yaml:"name" jsonschema:"minLength=1,maxLength=64"`
	Version  string            `json:"version" yaml:"version" jsonschema:"minLength=1,maxLength=64"`
	Loader   Loader            `json:"loader" yaml:"loader" jsonschema:"enum=vanilla"`
	Memory   *Memory           `json:"memory,omitempty" yaml:"memory,omitempty"`
	JVMArgs  []string          `json:"jvm_args,omitempty" yaml:"jvm_args,omitempty"`
	GameArgs []string          `json:"game_args,omitempty" yaml:"game_args,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Java     string            `json:"java,omitempty" yaml:"java,omitempty"`
}

// ManifestOf returns the manifest describing inst.
func ManifestOf(inst *Instance) *Manifest {
	m := &Manifest{
		ID:       inst.ID,
		Name:     inst.Name,
		Version:  inst.Version,
		Loader:   inst.Loader,
		JVMArgs:  inst.Launch.JVMArgs,
		GameArgs: inst.Launch.GameArgs,
		Env:      inst.Launch.Env,
		Java:     inst.Launch.Java,
	}
	mem := inst.Launch.Memory
	if mem != DefaultMemory() {
		m.Memory = &mem
	}
	return m
}

// Apply copies the manifest's settings onto inst.
func (m *Manifest) Apply(inst *Instance) {
	inst.Name = m.Name
	inst.Version = m.Version
	inst.Loader = m.Loader
	inst.Launch.Memory = DefaultMemory()
	if m.Memory != nil {
		inst.Launch.Memory = *m.Memory
	}
	inst.Launch.JVMArgs = m.JVMArgs
	inst.Launch.GameArgs = m.GameArgs
	inst.Launch.Env = m.Env
	inst.Launch.Java = m.Java
}

// ParseManifest parses and schema-validates instance.yaml content.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return &m, nil
}

// ReadManifest reads the manifest of the instance rooted at root.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// WriteManifest atomically replaces the manifest of the instance rooted at
// root.
func WriteManifest(root string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	header := []byte("# yaml-language-server: $schema=" + SchemaID + "\n")

	tmp, err := os.CreateTemp(root, ".instance-*.yaml")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(header, data...)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(root, ManifestFile)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// hasManifest reports whether root contains a manifest file at all.
func hasManifest(root string) bool {
	_, err := os.Stat(filepath.Join(root, ManifestFile))
	return !errors.Is(err, os.ErrNotExist)
}
