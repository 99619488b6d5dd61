package errdefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/tozd/go/errors"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
		check    func(error) bool
	}{
		{
			name:     "connection",
			err:      Connection("dial", errors.New("refused")),
			kind:     KindConnection,
			sentinel: ErrConnection,
			check:    IsConnection,
		},
		{
			name:     "not_found",
			err:      NotFound("download", "/a/b", errors.New("no such file")),
			kind:     KindNotFound,
			sentinel: ErrNotFound,
			check:    IsNotFound,
		},
		{
			name:     "unsupported",
			err:      Unsupported("remove folder", "slack channels cannot be removed"),
			kind:     KindUnsupported,
			sentinel: ErrUnsupported,
			check:    IsUnsupported,
		},
		{
			name:     "recursion",
			err:      Recursion("pull", "a/b/c", nil),
			kind:     KindRecursion,
			sentinel: ErrRecursion,
			check:    IsRecursion,
		},
		{
			name:     "transform",
			err:      Transform("decrypt", errors.New("bad password")),
			kind:     KindTransform,
			sentinel: ErrTransform,
			check:    IsTransform,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := errors.Errorf("outer: %w", tt.err)
			assert.Equal(t, tt.kind, KindOf(wrapped), "kind should survive wrapping")
			assert.True(t, tt.check(wrapped), "helper should match")
			assert.ErrorIs(t, wrapped, tt.sentinel, "sentinel should match")
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("download", "/docs/a.txt", errors.New("550 no such file"))
	assert.Equal(t, "download: not found error (/docs/a.txt): 550 no such file", err.Error())
	assert.False(t, IsConnection(err), "not found is not a connection error")
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")), "plain errors have no kind")
}
