// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build linux || darwin

package credential

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// minMlockBytes is the locked-memory limit below which tokens fall back to
// ordinary wiped memory. Every guarded buffer pins several pages.
const minMlockBytes = 1 << 20

var (
	mlockOnce sync.Once
	mlockOK   bool
)

func secureMemoryAvailable() bool {
	mlockOnce.Do(func() {
		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			slog.Warn("could not determine mlock limit, using unlocked token memory", "error", err)
			return
		}
		mlockOK = rlimit.Cur == unix.RLIM_INFINITY || rlimit.Cur >= minMlockBytes
		if !mlockOK {
			slog.Warn("mlock limit too low, using unlocked token memory",
				"limit_bytes", rlimit.Cur,
				"required_bytes", minMlockBytes)
		}
	})
	return mlockOK
}
