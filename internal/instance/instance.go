// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Loader is the mod loader variant of an instance.
type Loader string

// Supported loaders.
const (
	LoaderVanilla Loader = "vanilla"
)

// Default heap sizes in MiB.
const (
	DefaultMemoryMin = 512
	DefaultMemoryMax = 4096
)

// Memory is the JVM heap configuration. Flags are only passed when Enabled.
type Memory struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Min     int  `json:"min" yaml:"min" validate:"gte=0" jsonschema:"minimum=0"`
	Max     int  `json:"max" yaml:"max" validate:"gtefield=Min" jsonschema:"minimum=0"`
}

// DefaultMemory returns the built-in heap configuration.
func DefaultMemory() Memory {
	return Memory{Min: DefaultMemoryMin, Max: DefaultMemoryMax}
}

// Overrides are per-instance launch settings.
type Overrides struct {
	Memory   Memory            `json:"memory" yaml:"memory"`
	JVMArgs  []string          `json:"jvm_args,omitempty" yaml:"jvm_args,omitempty"`
	GameArgs []string          `json:"game_args,omitempty" yaml:"game_args,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty" validate:"dive,keys,required,excludesall==,endkeys"`
	// Java is an explicit java executable. Empty selects the bundled runtime.
	Java string `json:"java,omitempty" yaml:"java,omitempty"`
}

// Spec describes an instance to create.
type Spec struct {
	Name    string `validate:"required,max=64"`
	Version string `validate:"required,max=64,printascii,excludesall=/\\ "`
	Loader  Loader `validate:"omitempty,oneof=vanilla"`
	// Root is the instance directory. Empty places it under the launcher's
	// instances directory.
	Root   string
	Launch Overrides
}

// Instance is a registered game installation.
type Instance struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name" validate:"required,max=64"`
	Version   string    `json:"version" validate:"required,max=64,printascii,excludesall=/\\ "`
	Loader    Loader    `json:"loader" validate:"oneof=vanilla"`
	Root      string    `json:"root" validate:"required"`
	Launch    Overrides `json:"launch"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GameDir is the directory the game runs in.
func (i *Instance) GameDir() string { return filepath.Join(i.Root, GameDirName) }

// LogDir holds persisted launch logs.
func (i *Instance) LogDir() string { return filepath.Join(i.Root, LogDirName) }

// ManifestPath is the on-disk manifest of the instance.
func (i *Instance) ManifestPath() string { return filepath.Join(i.Root, ManifestFile) }

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Launch.JVMArgs = slices.Clone(i.Launch.JVMArgs)
	c.Launch.GameArgs = slices.Clone(i.Launch.GameArgs)
	c.Launch.Env = maps.Clone(i.Launch.Env)
	return &c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the instance record.
func (i *Instance) Validate() error {
	if err := validate.Struct(i); err != nil {
		return ErrInvalidSpec(err)
	}
	if !filepath.IsAbs(i.Root) {
		return ErrInvalidSpecf("root %q must be an absolute path", i.Root)
	}
	if i.Launch.Java != "" && !filepath.IsAbs(i.Launch.Java) {
		return ErrInvalidSpecf("java %q must be an absolute path", i.Launch.Java)
	}
	return nil
}

func (s *Spec) validate() error {
	if err := validate.Struct(s); err != nil {
		return ErrInvalidSpec(err)
	}
	return nil
}
