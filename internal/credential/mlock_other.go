// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

//go:build !linux && !darwin

package credential

func secureMemoryAvailable() bool { return true }
