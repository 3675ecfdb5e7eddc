// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"net"
	"strconv"
)

// Launcher features a version's argument rules can ask for.
const (
	featureQuickPlaySingleplayer = "is_quick_play_singleplayer"
	featureQuickPlayMultiplayer  = "is_quick_play_multiplayer"
	featureQuickPlayRealms       = "is_quick_play_realms"
)

const defaultServerPort = "25565"

// QuickPlay is a world, server or realm the game joins right after it
// starts. At most one target may be set.
type QuickPlay struct {
	World  string `json:"world,omitempty"`
	Server string `json:"server,omitempty"`
	Realm  string `json:"realm,omitempty"`
}

// IsZero reports whether no target is set.
func (q QuickPlay) IsZero() bool {
	return q == QuickPlay{}
}

// Validate rejects more than one target.
func (q QuickPlay) Validate() error {
	set := 0
	for _, v := range []string{q.World, q.Server, q.Realm} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return ErrInvalidQuickPlay("only one of world, server or realm may be given")
	}
	return nil
}

func (q QuickPlay) features() map[string]bool {
	return map[string]bool{
		featureQuickPlaySingleplayer: q.World != "",
		featureQuickPlayMultiplayer:  q.Server != "",
		featureQuickPlayRealms:       q.Realm != "",
	}
}

func (q QuickPlay) vars() map[string]string {
	return map[string]string{
		"quickPlaySingleplayer": q.World,
		"quickPlayMultiplayer":  q.Server,
		"quickPlayRealms":       q.Realm,
	}
}

// legacyArgs is how versions without quick play arguments are sent to a
// server. Worlds and realms have no legacy form.
func (q QuickPlay) legacyArgs() (args []string, ok bool) {
	if q.Server == "" {
		return nil, false
	}
	host, port, err := net.SplitHostPort(q.Server)
	if err != nil {
		host, port = q.Server, defaultServerPort
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, false
	}
	return []string{"--server", host, "--port", port}, true
}

// PlanOption adjusts one plan resolution.
type PlanOption func(*planOptions)

type planOptions struct {
	quickPlay QuickPlay
}

// WithQuickPlay makes the plan join q on start.
func WithQuickPlay(q QuickPlay) PlanOption {
	return func(o *planOptions) { o.quickPlay = q }
}
