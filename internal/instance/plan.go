// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberlaunch/ember/internal/xdg"
)

var tracer = otel.Tracer("ember/instance")

// Launcher identification passed to the game.
const (
	LauncherName    = "ember"
	LauncherVersion = "1.0"
)

// Identity holds the identity claims substituted into game arguments.
type Identity struct {
	PlayerName  string
	PlayerID    uuid.UUID
	AccessToken string
	XUID        string
	UserType    string
	ClientID    string
}

// LaunchPlan is the fully expanded command for one launch. It carries the
// access token in GameArgs and must not be logged as is.
type LaunchPlan struct {
	InstanceID       string   `json:"instance_id"`
	VersionID        string   `json:"version_id"`
	RuntimeComponent string   `json:"runtime_component,omitempty"`
	Java             string   `json:"java"`
	Dir              string   `json:"dir"`
	Classpath        []string `json:"classpath"`
	JVMArgs          []string `json:"jvm_args"`
	MainClass        string   `json:"main_class"`
	GameArgs         []string `json:"game_args"`
	// Env holds KEY=VALUE additions, sorted by key.
	Env      []string `json:"env,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Args returns the argument vector after the java executable.
func (p *LaunchPlan) Args() []string {
	args := make([]string, 0, len(p.JVMArgs)+1+len(p.GameArgs))
	args = append(args, p.JVMArgs...)
	args = append(args, p.MainClass)
	return append(args, p.GameArgs...)
}

// Command returns the full argv.
func (p *LaunchPlan) Command() []string {
	return append([]string{p.Java}, p.Args()...)
}

// Fingerprint is a stable digest of the plan.
func (p *LaunchPlan) Fingerprint() string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResolveLaunchPlan expands an instance into a launch plan for identity.
func (r *Registry) ResolveLaunchPlan(ctx context.Context, id string, ident Identity, opts ...PlanOption) (plan *LaunchPlan, err error) {
	ctx, span := tracer.Start(ctx, "instance.resolve_plan",
		trace.WithAttributes(attribute.String("instance.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var o planOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.quickPlay.Validate(); err != nil {
		return nil, err
	}

	inst, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err = resolvePlan(inst, r.defaults, r.layout, r.platform, ident, o)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("instance.version", plan.VersionID),
		attribute.Int("plan.warnings", len(plan.Warnings)),
	)
	for _, w := range plan.Warnings {
		r.logger.WarnContext(ctx, "launch plan warning", "instance_id", id, "warning", w)
	}
	return plan, nil
}

// resolvePlan builds the launch plan of inst from the installation in layout.
// It reads files but has no side effects.
func resolvePlan(inst *Instance, defaults Defaults, layout xdg.Layout, p platform, ident Identity, opts planOptions) (*LaunchPlan, error) {
	doc, err := loadVersionChain(layout, inst.Version)
	if err != nil {
		return nil, err
	}
	p.Features = opts.quickPlay.features()

	plan := &LaunchPlan{
		InstanceID: inst.ID,
		VersionID:  inst.Version,
		Dir:        inst.GameDir(),
		MainClass:  doc.MainClass,
	}
	if doc.MainClass == "" {
		return nil, ErrIncompleteInstallation(inst.Version, []string{layout.VersionManifest(inst.Version) + " (no main class)"})
	}

	classpath, missing := collectClasspath(doc, layout, p)
	jarVersion := inst.Version
	if doc.Jar != "" {
		jarVersion = doc.Jar
	}
	jar := layout.ClientJar(jarVersion)
	if !fileExists(jar) {
		missing = append(missing, jar)
	}
	classpath = append(classpath, jar)
	assetIndex := doc.AssetIndex.ID
	if assetIndex == "" {
		assetIndex = doc.Assets
	}
	if assetIndex != "" {
		indexPath := filepath.Join(layout.AssetIndexes(), assetIndex+".json")
		if !fileExists(indexPath) {
			missing = append(missing, indexPath)
		}
	}
	if len(missing) > 0 {
		return nil, ErrIncompleteInstallation(inst.Version, missing)
	}
	plan.Classpath = classpath

	java, component, warning, err := selectJava(inst, defaults, layout, doc)
	if err != nil {
		return nil, err
	}
	plan.Java = java
	plan.RuntimeComponent = component
	if warning != "" {
		plan.Warnings = append(plan.Warnings, warning)
	}

	vars := map[string]string{
		"auth_player_name":    ident.PlayerName,
		"version_name":        inst.Version,
		"game_directory":      plan.Dir,
		"assets_root":         layout.Assets(),
		"assets_index_name":   assetIndex,
		"auth_uuid":           undashed(ident.PlayerID),
		"auth_access_token":   ident.AccessToken,
		"auth_session":        ident.AccessToken,
		"clientid":            ident.ClientID,
		"auth_xuid":           ident.XUID,
		"user_type":           userType(ident.UserType),
		"version_type":        doc.Type,
		"user_properties":     "{}",
		"natives_directory":   filepath.Join(layout.Natives(), inst.Version),
		"launcher_name":       LauncherName,
		"launcher_version":    LauncherVersion,
		"classpath":           strings.Join(classpath, string(os.PathListSeparator)),
		"classpath_separator": string(os.PathListSeparator),
		"library_directory":   layout.Libraries(),
		"game_assets":         gameAssets(layout, assetIndex),
	}
	for k, v := range opts.quickPlay.vars() {
		vars[k] = v
	}
	exp := expander{vars: vars, unknown: make(map[string]struct{}), used: make(map[string]struct{})}

	mem := inst.Launch.Memory
	if mem.Enabled {
		if mem.Min > 0 {
			plan.JVMArgs = append(plan.JVMArgs, fmt.Sprintf("-Xms%dM", mem.Min))
		}
		if mem.Max > 0 {
			plan.JVMArgs = append(plan.JVMArgs, fmt.Sprintf("-Xmx%dM", mem.Max))
		}
	}
	switch {
	case doc.Arguments != nil && len(doc.Arguments.JVM) > 0:
		plan.JVMArgs = append(plan.JVMArgs, exp.arguments(doc.Arguments.JVM, p)...)
	default:
		plan.JVMArgs = append(plan.JVMArgs, exp.strings([]string{
			"-Djava.library.path=${natives_directory}",
			"-cp", "${classpath}",
		})...)
	}
	plan.JVMArgs = append(plan.JVMArgs, exp.strings(defaults.JVMArgs)...)
	plan.JVMArgs = append(plan.JVMArgs, exp.strings(inst.Launch.JVMArgs)...)

	switch {
	case doc.Arguments != nil && len(doc.Arguments.Game) > 0:
		plan.GameArgs = exp.arguments(doc.Arguments.Game, p)
	default:
		plan.GameArgs = exp.strings(strings.Fields(doc.MinecraftArguments))
	}
	if qp := opts.quickPlay; !qp.IsZero() && !exp.usedAny("quickPlaySingleplayer", "quickPlayMultiplayer", "quickPlayRealms") {
		if args, ok := qp.legacyArgs(); ok {
			plan.GameArgs = append(plan.GameArgs, args...)
		} else {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("version %s cannot join a world or realm on start, opening the title screen", inst.Version))
		}
	}
	plan.GameArgs = append(plan.GameArgs, exp.strings(inst.Launch.GameArgs)...)

	plan.Env = sortedEnv(inst.Launch.Env)
	plan.Warnings = append(plan.Warnings, exp.warnings()...)
	return plan, nil
}

// collectClasspath returns the library jars of doc allowed on p, in version
// order and without duplicates, and the ones that are not installed. Native
// artifacts are checked but not put on the classpath.
func collectClasspath(doc *VersionDoc, layout xdg.Layout, p platform) (classpath, missing []string) {
	seen := make(map[string]bool)
	for _, lib := range doc.Libraries {
		if !p.allowed(lib.Rules) {
			continue
		}
		if classifier := lib.nativeClassifier(p); classifier != "" {
			if a, ok := lib.Downloads.Classifiers[classifier]; ok {
				path := filepath.Join(layout.Libraries(), filepath.FromSlash(a.Path))
				if !fileExists(path) {
					missing = append(missing, path)
				}
			}
		}

		rel := ""
		switch {
		case lib.Downloads.Artifact != nil:
			rel = lib.Downloads.Artifact.Path
		case len(lib.Natives) == 0:
			rel = mavenPath(lib.Name)
		}
		if rel == "" {
			continue
		}
		path := filepath.Join(layout.Libraries(), filepath.FromSlash(rel))
		if seen[path] {
			continue
		}
		seen[path] = true
		if !fileExists(path) {
			missing = append(missing, path)
		}
		classpath = append(classpath, path)
	}
	return classpath, missing
}

// mavenPath maps group:artifact:version[:classifier] to its repository path.
func mavenPath(name string) string {
	parts := strings.Split(name, ":")
	if len(parts) < 3 {
		return ""
	}
	group, artifact, version := parts[0], parts[1], parts[2]
	file := artifact + "-" + version
	if len(parts) > 3 {
		file += "-" + parts[3]
	}
	return strings.ReplaceAll(group, ".", "/") + "/" + artifact + "/" + version + "/" + file + ".jar"
}

// selectJava picks the instance override, then the launcher default, then
// the bundled runtime for the version.
func selectJava(inst *Instance, defaults Defaults, layout xdg.Layout, doc *VersionDoc) (java, component, warning string, err error) {
	switch {
	case inst.Launch.Java != "":
		java = inst.Launch.Java
	case defaults.Java != "":
		java = defaults.Java
	default:
		var ok bool
		component, ok = RuntimeComponent(inst.Version, doc)
		if !ok {
			warning = fmt.Sprintf("cannot derive a java runtime from version %q, assuming %s", inst.Version, component)
		}
		java = layout.JavaBinary(component)
	}
	if !fileExists(java) {
		return "", "", "", ErrMissingRuntime(java, component)
	}
	return java, component, warning, nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// expander substitutes ${key} placeholders and remembers which keys it
// used and which it did not know.
type expander struct {
	vars    map[string]string
	unknown map[string]struct{}
	used    map[string]struct{}
}

func (e expander) expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		if v, ok := e.vars[key]; ok {
			e.used[key] = struct{}{}
			return v
		}
		e.unknown[key] = struct{}{}
		return m
	})
}

func (e expander) strings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, e.expand(s))
	}
	return out
}

func (e expander) arguments(in []Argument, p platform) []string {
	var out []string
	for _, a := range in {
		if !p.allowed(a.Rules) {
			continue
		}
		out = append(out, e.strings(a.Values)...)
	}
	return out
}

func (e expander) usedAny(keys ...string) bool {
	for _, k := range keys {
		if _, ok := e.used[k]; ok {
			return true
		}
	}
	return false
}

func (e expander) warnings() []string {
	keys := make([]string, 0, len(e.unknown))
	for k := range e.unknown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("unknown argument placeholder ${%s} left unexpanded", k))
	}
	return out
}

func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func undashed(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func userType(t string) string {
	if t == "" {
		return "msa"
	}
	return t
}

func gameAssets(layout xdg.Layout, index string) string {
	if index == "legacy" || index == "pre-1.6" {
		return filepath.Join(layout.Assets(), "virtual", index)
	}
	return layout.Assets()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
