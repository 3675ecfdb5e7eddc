// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	assert.Len(t, id1, 26)
	assert.NotEqual(t, id1, id2)
	assert.Less(t, id1, id2, "ids issued later sort later")
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, id, parsed.String())

	_, err = ParseID("survival-world")
	assert.Error(t, err)
}
