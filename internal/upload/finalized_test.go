package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFinalizedExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFinalized(time.Minute)
	f.now = func() time.Time { return now }

	f.add("a")
	f.add("")
	require.True(t, f.has("a"))
	require.False(t, f.has(""), "empty ids are never recorded")

	now = now.Add(2 * time.Minute)
	require.False(t, f.has("a"), "expired after the retention window")

	f.add("b")
	require.NotContains(t, f.ids, "a", "expired ids are pruned on insert")
	require.Contains(t, f.ids, "b")
}
