package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadinessReadyAfterProbes(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	r := Readiness{Probes: 5, Interval: 250 * time.Millisecond, Pauser: pauser}
	calls := 0
	err := r.Await(context.Background(), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, pauser.delays())
}

func TestReadinessGivesUp(t *testing.T) {
	t.Parallel()

	pauser := &recordingPauser{}
	r := Readiness{Probes: 3, Interval: time.Second, Pauser: pauser}
	err := r.Await(context.Background(), func(context.Context) (bool, error) { return false, nil })
	require.ErrorIs(t, err, ErrNotReady)
	require.Len(t, pauser.delays(), 2, "no pause after the final probe")
}

func TestReadinessProbeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Readiness{Probes: 3, Pauser: &recordingPauser{}}.Await(context.Background(),
		func(context.Context) (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
}

func TestSelectorPresent(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><code class="tabContent-code"><pre>[Am]  hello</pre></code><div class="empty"></div></body></html>`)

	ok, err := SelectorPresent(body, "code.tabContent-code")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = SelectorPresent(body, "div.empty")
	require.NoError(t, err)
	require.False(t, ok, "blank elements do not count as ready")

	ok, err = SelectorPresent(body, "")
	require.NoError(t, err)
	require.True(t, ok)
}
