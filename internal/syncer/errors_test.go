package syncer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"creddd/internal/membership"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"invalid balance", membership.ErrInvalidBalance, KindFatalInvalidState},
		{"wrapped invalid balance", fmt.Errorf("members: %w", membership.ErrInvalidBalance), KindFatalInvalidState},
		{"not ready", ErrNotReady, KindNotReady},
		{"sanity", fmt.Errorf("block 9: %w", ErrSanityCheckFailed), KindSanityFailed},
		{"anything else", errors.New("dial tcp: refused"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}

	assert.True(t, IsFatal(membership.ErrInvalidBalance))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("x")))
}
