// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"github.com/Masterminds/semver/v3"
)

// Bundled Java runtime components.
const (
	RuntimeLegacy = "jre-legacy"
	RuntimeAlpha  = "java-runtime-alpha"
	RuntimeGamma  = "java-runtime-gamma"
	RuntimeDelta  = "java-runtime-delta"
)

var runtimeThresholds = []struct {
	below     *semver.Version
	component string
}{
	{semver.MustParse("1.17.0"), RuntimeLegacy},
	{semver.MustParse("1.18.0"), RuntimeAlpha},
	{semver.MustParse("1.20.5"), RuntimeGamma},
}

// RuntimeComponent picks the runtime for a game version. A component named by
// the version document wins; otherwise it is derived from the release number.
// ok is false when the version is not a release number and the newest
// runtime was assumed.
func RuntimeComponent(version string, doc *VersionDoc) (component string, ok bool) {
	if doc != nil && doc.JavaVersion != nil && doc.JavaVersion.Component != "" {
		return doc.JavaVersion.Component, true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return RuntimeDelta, false
	}
	for _, t := range runtimeThresholds {
		if v.LessThan(t.below) {
			return t.component, true
		}
	}
	return RuntimeDelta, true
}
