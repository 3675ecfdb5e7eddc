// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/emberlaunch/ember/internal/instance"
)

func TestWatcher_ReloadsEditedManifest(t *testing.T) {
	h := newHarness(t, instance.Defaults{})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	inst, err := h.reg.Create(ctx, survival())
	require.NoError(t, err)

	w, err := h.reg.NewWatcher(20 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Equal(t, 1, w.Watched())

	m, err := instance.ReadManifest(inst.Root)
	require.NoError(t, err)
	m.Name = "edited on disk"
	require.NoError(t, instance.WriteManifest(inst.Root, m))

	assert.Eventually(t, func() bool {
		got, err := h.reg.Get(ctx, inst.ID)
		return err == nil && got.Name == "edited on disk"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_FollowsRegistry(t *testing.T) {
	h := newHarness(t, instance.Defaults{})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	w, err := h.reg.NewWatcher(20 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Equal(t, 0, w.Watched())

	inst, err := h.reg.Create(ctx, survival())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return w.Watched() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.reg.Delete(ctx, inst.ID, instance.DeleteOptions{RemoveFiles: true}))
	assert.Eventually(t, func() bool { return w.Watched() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresInvalidEdits(t *testing.T) {
	h := newHarness(t, instance.Defaults{})
	ctx := context.Background()

	inst, err := h.reg.Create(ctx, survival())
	require.NoError(t, err)
	w, err := h.reg.NewWatcher(20 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	m, err := instance.ReadManifest(inst.Root)
	require.NoError(t, err)
	m.Loader = "forge"
	require.NoError(t, instance.WriteManifest(inst.Root, m))

	time.Sleep(200 * time.Millisecond)
	got, err := h.reg.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.LoaderVanilla, got.Loader)
}
