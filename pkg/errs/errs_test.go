package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	errMissing := New(KindNotFound, "member_not_found")
	wrapped := fmt.Errorf("load inviter: %w", errMissing)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.True(t, errors.Is(wrapped, errMissing))
	assert.False(t, errors.Is(wrapped, ErrAlreadyExists))
	assert.False(t, errors.Is(wrapped, New(KindNotFound, "code_request_not_found")))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "member_not_found", Code(wrapped))
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal", Code(err))
	assert.Equal(t, Kind(""), KindOf(nil))
}
