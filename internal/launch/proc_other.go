// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build !unix

package launch

import (
	"errors"
	"os"
	"os/exec"
)

func isolate(*exec.Cmd) {}

// terminate has no graceful form without process groups; the stop grace
// still applies before kill.
func terminate(*os.Process) error { return nil }

func kill(p *os.Process) (bool, error) {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	return err == nil, err
}

func exitSignal(*os.ProcessState) string { return "" }
