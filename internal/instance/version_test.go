// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlaunch/ember/internal/xdg"
)

func TestArgument_UnmarshalJSON(t *testing.T) {
	var args []Argument
	raw := `["--plain", {"rules":[{"action":"allow","os":{"name":"osx"}}],"value":"-XstartOnFirstThread"},
		{"rules":[{"action":"allow"}],"value":["--width","${resolution_width}"]}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &args))
	require.Len(t, args, 3)

	assert.Equal(t, []string{"--plain"}, args[0].Values)
	assert.Empty(t, args[0].Rules)
	assert.Equal(t, []string{"-XstartOnFirstThread"}, args[1].Values)
	assert.Equal(t, "osx", args[1].Rules[0].OS.Name)
	assert.Equal(t, []string{"--width", "${resolution_width}"}, args[2].Values)

	var bad Argument
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestPlatform_Allowed(t *testing.T) {
	linux := platform{OS: "linux", Arch: "x86_64", Version: "6.1"}
	mac := platform{OS: "osx", Arch: "arm64", Version: "14.2"}

	onlyOSX := []Rule{{Action: "allow", OS: &OSRule{Name: "osx"}}}
	notOSX := []Rule{{Action: "allow"}, {Action: "disallow", OS: &OSRule{Name: "osx"}}}
	old := []Rule{{Action: "allow", OS: &OSRule{Name: "osx", Version: `^10\.5\.\d$`}}}
	x86 := []Rule{{Action: "allow", OS: &OSRule{Arch: "x86"}}}
	demo := []Rule{{Action: "allow", Features: map[string]bool{"is_demo_user": true}}}

	tests := []struct {
		name  string
		p     platform
		rules []Rule
		want  bool
	}{
		{"no rules", linux, nil, true},
		{"only osx on linux", linux, onlyOSX, false},
		{"only osx on osx", mac, onlyOSX, true},
		{"not osx on linux", linux, notOSX, true},
		{"not osx on osx", mac, notOSX, false},
		{"version pattern miss", mac, old, false},
		{"arch miss", linux, x86, false},
		{"feature never enabled", linux, demo, false},
		{"feature enabled", platform{OS: "linux", Features: map[string]bool{"is_demo_user": true}}, demo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.allowed(tt.rules))
		})
	}
}

func TestMavenPath(t *testing.T) {
	assert.Equal(t, "com/mojang/brigadier/1.1.8/brigadier-1.1.8.jar", mavenPath("com.mojang:brigadier:1.1.8"))
	assert.Equal(t, "org/lwjgl/lwjgl/3.3.1/lwjgl-3.3.1-natives-linux.jar", mavenPath("org.lwjgl:lwjgl:3.3.1:natives-linux"))
	assert.Empty(t, mavenPath("broken"))
}

func TestLibrary_NativeClassifier(t *testing.T) {
	lib := Library{Natives: map[string]string{"linux": "natives-linux", "windows": "natives-windows-${arch}"}}

	assert.Equal(t, "natives-linux", lib.nativeClassifier(platform{OS: "linux", Arch: "x86_64"}))
	assert.Equal(t, "natives-windows-32", lib.nativeClassifier(platform{OS: "windows", Arch: "x86"}))
	assert.Equal(t, "natives-windows-64", lib.nativeClassifier(platform{OS: "windows", Arch: "x86_64"}))
	assert.Empty(t, lib.nativeClassifier(platform{OS: "osx", Arch: "arm64"}))
}

func TestLoadVersionChain_Loop(t *testing.T) {
	layout := xdg.Layout{Root: t.TempDir()}
	for id, parent := range map[string]string{"a": "b", "b": "a"} {
		path := layout.VersionManifest(id)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		data, err := json.Marshal(map[string]any{"id": id, "inheritsFrom": parent, "mainClass": "Main"})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}

	_, err := loadVersionChain(layout, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inheritance loop")
}

func TestVersionDoc_Inherit(t *testing.T) {
	parent := &VersionDoc{
		ID:         "1.20.1",
		MainClass:  "net.minecraft.client.main.Main",
		Arguments:  &VersionArgs{Game: []Argument{{Values: []string{"--parent"}}}},
		Libraries:  []Library{{Name: "org.ow2.asm:asm:9.5"}, {Name: "org.lwjgl:lwjgl:3.3.1:natives-linux"}},
		AssetIndex: AssetIndexRef{ID: "5"},
	}
	child := &VersionDoc{
		ID:        "forge",
		Arguments: &VersionArgs{Game: []Argument{{Values: []string{"--child"}}}},
		Libraries: []Library{{Name: "org.ow2.asm:asm:9.6"}},
	}

	merged := child.inherit(parent)
	assert.Equal(t, "forge", merged.ID)
	assert.Equal(t, "net.minecraft.client.main.Main", merged.MainClass)
	assert.Equal(t, "1.20.1", merged.Jar)
	assert.Equal(t, "5", merged.AssetIndex.ID)
	require.Len(t, merged.Arguments.Game, 2)
	assert.Equal(t, []string{"--parent"}, merged.Arguments.Game[0].Values)
	assert.Equal(t, []string{"--child"}, merged.Arguments.Game[1].Values)
	assert.Equal(t, []Library{{Name: "org.ow2.asm:asm:9.6"}, {Name: "org.lwjgl:lwjgl:3.3.1:natives-linux"}}, merged.Libraries)
	assert.Len(t, parent.Arguments.Game, 1, "parent is not modified")
}
