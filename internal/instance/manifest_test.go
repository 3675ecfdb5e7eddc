// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlaunch/ember/internal/instance"
)

func TestGenerateSchema(t *testing.T) {
	data, err := instance.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, instance.SchemaID, doc["$id"])
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "memory")
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "minimal",
			yaml: "name: survival-world\nversion: \"1.20.1\"\nloader: vanilla\n",
		},
		{
			name: "full",
			yaml: `id: 01HZY3M9G7Q5W8K2X4V6N0B1C3
name: modded
version: "1.16.5"
loader: vanilla
memory: {enabled: true, min: 1024, max: 2048}
jvm_args: ["-XX:+UseG1GC"]
game_args: ["--fullscreen"]
env: {MESA_GL_VERSION_OVERRIDE: "4.5"}
java: /usr/lib/jvm/java-8/bin/java
`,
		},
		{name: "empty", yaml: "", wantErr: "empty"},
		{name: "not yaml", yaml: "name: [", wantErr: "invalid YAML"},
		{name: "missing version", yaml: "name: a\nloader: vanilla\n", wantErr: "schema validation failed"},
		{name: "unknown loader", yaml: "name: a\nversion: \"1\"\nloader: fabric\n", wantErr: "schema validation failed"},
		{name: "unknown field", yaml: "name: a\nversion: \"1\"\nloader: vanilla\nmods: []\n", wantErr: "schema validation failed"},
		{name: "bad id", yaml: "id: nope\nname: a\nversion: \"1\"\nloader: vanilla\n", wantErr: "schema validation failed"},
		{name: "negative memory", yaml: "name: a\nversion: \"1\"\nloader: vanilla\nmemory: {enabled: true, min: -1, max: 2}\n", wantErr: "schema validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := instance.ParseManifest([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, m.Name)
		})
	}
}

func TestWriteManifest_RoundTrip(t *testing.T) {
	root := t.TempDir()
	in := &instance.Manifest{
		ID:      instance.NewID(),
		Name:    "survival-world",
		Version: "1.20",
		Loader:  instance.LoaderVanilla,
		Memory:  &instance.Memory{Enabled: true, Min: 512, Max: 1024},
		Env:     map[string]string{"A": "1"},
	}
	require.NoError(t, instance.WriteManifest(root, in))

	raw, err := os.ReadFile(filepath.Join(root, instance.ManifestFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# yaml-language-server: $schema="+instance.SchemaID))

	out, err := instance.ReadManifest(root)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestManifestOf_OmitsDefaultMemory(t *testing.T) {
	inst := &instance.Instance{
		ID: instance.NewID(), Name: "a", Version: "1.20.1", Loader: instance.LoaderVanilla,
		Launch: instance.Overrides{Memory: instance.DefaultMemory()},
	}
	assert.Nil(t, instance.ManifestOf(inst).Memory)

	inst.Launch.Memory.Enabled = true
	m := instance.ManifestOf(inst)
	require.NotNil(t, m.Memory)
	assert.True(t, m.Memory.Enabled)

	var back instance.Instance
	m.Apply(&back)
	assert.Equal(t, inst.Launch.Memory, back.Launch.Memory)
	assert.Equal(t, inst.Name, back.Name)
}
