package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSQLiteConflictError(t *testing.T) {
	busy := errors.New("exec: SQLITE_BUSY (5)")
	locked := fmt.Errorf("set item: %w", errors.New("database is locked"))

	assert.True(t, IsSQLiteBusyError(busy))
	assert.True(t, IsSQLiteLockedError(locked))
	assert.True(t, IsSQLiteConflictError(busy))
	assert.True(t, IsSQLiteConflictError(locked))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table")))
	assert.False(t, IsSQLiteConflictError(nil))
}
