package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowTracksWallClock(t *testing.T) {
	t.Parallel()

	clk := New()
	require.WithinDuration(t, time.Now(), clk.Now(), time.Second)
}
