package challenge

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDriver serves a fixed sequence of page states. The fake sleep in
// each test advances the step, so "the page changed while we slept" is
// scripted exactly.
type scriptedDriver struct {
	states  []pageState
	step    int
	navs    []string
	scrolls int
}

type pageState struct {
	url  string
	html string
}

func (d *scriptedDriver) state() pageState {
	i := d.step
	if i >= len(d.states) {
		i = len(d.states) - 1
	}
	return d.states[i]
}

func (d *scriptedDriver) CurrentURL() string {
	return d.state().url
}

func (d *scriptedDriver) Content() (string, error) {
	return d.state().html, nil
}

func (d *scriptedDriver) ElementVisible(_ string) bool {
	return false
}

func (d *scriptedDriver) Scroll() {
	d.scrolls++
}

func (d *scriptedDriver) Navigate(url string) error {
	d.navs = append(d.navs, url)
	return nil
}

// testWaiter wires a waiter to a fake clock. Sleeping advances the clock and
// the driver script instead of blocking.
func testWaiter(drv *scriptedDriver) (*Waiter, *time.Time) {
	clock := time.Unix(1700000000, 0)
	w := NewWaiter(drv, DefaultThresholds(), DefaultWaitTuning(), slog.Default())
	w.now = func() time.Time { return clock }
	w.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		drv.step++
		return ctx.Err()
	}
	return w, &clock
}

const target = "https://www.kiapartsnow.com/oem/kia~wheel~52910.html"

func challengedState() pageState {
	return pageState{
		url:  "https://www.kiapartsnow.com/oem/kia~wheel~52910.html",
		html: pad("<html><body>Just a moment...", 1200),
	}
}

func clearedState() pageState {
	return pageState{
		url:  "https://www.kiapartsnow.com/oem/kia~wheel~52910.html",
		html: pad("<html><body>Wheel Assembly 17 inch alloy, fits 2019-2021 models", 9000),
	}
}

func TestWaiterClearsWithinFirstAttempt(t *testing.T) {
	// Initial delay consumes step 0->1, the first poll sees step 1 still
	// challenged, the second poll sees step 2 cleared.
	drv := &scriptedDriver{states: []pageState{
		challengedState(),
		challengedState(),
		clearedState(),
	}}
	w, clock := testWaiter(drv)
	start := *clock

	ok := w.Wait(context.Background(), 30*time.Second, target, 1)

	require.True(t, ok)
	assert.Empty(t, drv.navs, "cleared without re-navigation")
	assert.Less(t, clock.Sub(start), 30*time.Second, "well inside one attempt window")
}

func TestWaiterRenavigatesThenGivesUp(t *testing.T) {
	drv := &scriptedDriver{states: []pageState{challengedState()}}
	w, _ := testWaiter(drv)

	// Attempt timeout of 3s allows two ~2s polls per attempt. The page
	// never clears, so one retry means exactly one re-navigation.
	ok := w.Wait(context.Background(), 3*time.Second, target, 1)

	assert.False(t, ok)
	require.Len(t, drv.navs, 1)
	assert.Equal(t, target, drv.navs[0])
}

func TestWaiterFinalCheckCatchesLateClear(t *testing.T) {
	// The page clears between the last poll and the deadline. The final
	// pass accepts it even though the browser drifted to another host.
	late := clearedState()
	late.url = "https://parts-mirror.example.net/oem/kia~wheel~52910.html"

	drv := &scriptedDriver{states: []pageState{
		challengedState(),
		challengedState(),
		challengedState(),
		late,
	}}
	w, _ := testWaiter(drv)

	ok := w.Wait(context.Background(), 3*time.Second, target, 0)

	assert.True(t, ok)
	assert.Empty(t, drv.navs)
}

func TestWaiterStopsOnContextCancel(t *testing.T) {
	drv := &scriptedDriver{states: []pageState{challengedState()}}
	w := NewWaiter(drv, DefaultThresholds(), DefaultWaitTuning(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := time.Now()
	ok := w.Wait(ctx, 30*time.Second, target, 3)

	assert.False(t, ok)
	assert.Less(t, time.Since(done), 2*time.Second, "cancelled wait must not block")
	assert.Empty(t, drv.navs)
}

func TestWaiterClearedScansBodyPrefixOnly(t *testing.T) {
	drv := &stubDriver{url: target}
	w := NewWaiter(drv, DefaultThresholds(), DefaultWaitTuning(), slog.Default())

	// A phrase buried past the scanned prefix is stale challenge residue,
	// not an active challenge.
	drv.html = pad("<html><body>clean product page", 4500) + "just a moment" + pad("", 5000)
	assert.True(t, w.cleared(target))

	drv.html = pad("<html><body>just a moment", 9500)
	assert.False(t, w.cleared(target))
}

func TestWaiterClearedRequiresSubstantialBody(t *testing.T) {
	drv := &stubDriver{url: target, html: pad("<html><body>clean", 4000)}
	w := NewWaiter(drv, DefaultThresholds(), DefaultWaitTuning(), slog.Default())

	assert.False(t, w.cleared(target), "8000 byte floor")

	drv.html = pad("<html><body>clean", 8001)
	assert.True(t, w.cleared(target))
}

func TestWaiterClearedRejectsWrongHost(t *testing.T) {
	drv := &stubDriver{
		url:  "https://challeng-eparked.example.org/landing",
		html: pad("<html><body>clean", 9000),
	}
	w := NewWaiter(drv, DefaultThresholds(), DefaultWaitTuning(), slog.Default())

	assert.False(t, w.cleared(target))

	drv.url = "https://kiapartsnow.com/oem/other-page"
	assert.True(t, w.cleared(target), "www prefix ignored")
}

func TestHostMatch(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		current string
		want    bool
	}{
		{"identical", "https://kiapartsnow.com/a", "https://kiapartsnow.com/b", true},
		{"www stripped", "https://www.kiapartsnow.com/a", "https://kiapartsnow.com/b", true},
		{"scheme optional", "kiapartsnow.com", "https://www.kiapartsnow.com/oem", true},
		{"subdomain of target", "example.com", "https://shop.example.com/x", true},
		{"different site", "https://hondapartsnow.com", "https://kiapartsnow.com", false},
		{"empty target matches anything", "", "https://kiapartsnow.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hostMatch(tt.target, tt.current))
		})
	}
}

func TestRandomBetween(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := randomBetween(5*time.Second, 8*time.Second)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 8*time.Second)
	}

	assert.Equal(t, time.Second, randomBetween(time.Second, time.Second))
}
