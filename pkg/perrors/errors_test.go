package perrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetKind(t *testing.T) {
	assert.Equal(t, KindInvalidArgument, InvalidArgument("bad %s", "input").Kind)
	assert.Equal(t, KindNotFound, NotFound("no %s", "node").Kind)
	assert.Equal(t, KindConflict, Conflict("dup").Kind)
	assert.Equal(t, KindInternal, Internal(nil, "bug").Kind)

	cause := errors.New("disk full")
	uerr := Unavailable(cause, "store down")
	assert.Equal(t, KindUnavailable, uerr.Kind)
	assert.ErrorIs(t, uerr, cause)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("x")))
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := NotFound("node %s", "n1")
	wrapped := fmt.Errorf("registry: %w", base)

	found, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, found.Kind)
}
