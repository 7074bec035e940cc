package checks

import (
	"context"
	"errors"
	"testing"

	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) (runner.Job, error) {
	return func(context.Context, string) error { return nil }, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("uptime-checker", noop))
	require.NoError(t, r.Register("iam-checker", noop))
	require.NoError(t, r.Register("broken", func(context.Context) (runner.Job, error) {
		return nil, errors.New("missing budget")
	}))

	t.Run("rejects invalid registrations", func(t *testing.T) {
		assert.Error(t, r.Register("", noop))
		assert.Error(t, r.Register("other", nil))
		assert.ErrorContains(t, r.Register("iam-checker", noop), "already registered")
	})

	t.Run("lists sorted names", func(t *testing.T) {
		assert.Equal(t, []string{"broken", "iam-checker", "uptime-checker"}, r.List())
	})

	t.Run("creates jobs", func(t *testing.T) {
		job, err := r.Create(context.Background(), "iam-checker")
		require.NoError(t, err)
		assert.NoError(t, job(context.Background(), "inv-1"))
	})

	t.Run("unknown and failing factories", func(t *testing.T) {
		_, err := r.Create(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrUnknownJob)

		_, err = r.Create(context.Background(), "broken")
		assert.ErrorContains(t, err, "missing budget")
	})
}
