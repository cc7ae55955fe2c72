package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	store, err := NewStore("sqlite", "file::memory:", 1, 1, 0)
	assert.Nil(t, store)
	assert.ErrorContains(t, err, "unsupported database driver")
}
