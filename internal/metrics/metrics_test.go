package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoEvents(t *testing.T) {
	c := New(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.spawned))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.rejected))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.active))
}

func TestLifecycle(t *testing.T) {
	c := New(nil)

	c.Spawned("a")
	c.Spawned("b")
	c.Spawned("c")
	c.Rejected("d")
	assert.Equal(t, 3.0, testutil.ToFloat64(c.spawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.active))

	c.Released("a", "join", 10*time.Millisecond)
	c.Released("b", "cancel", time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.released.WithLabelValues("join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.released.WithLabelValues("cancel")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.released.WithLabelValues("detach")))
}

func TestSeparateRegistries(t *testing.T) {
	// Two collectors must not clash on registration.
	a := New(map[string]string{"pool": "a"})
	b := New(map[string]string{"pool": "b"})
	a.Spawned("x")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.spawned))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.spawned))
}

func TestHandler(t *testing.T) {
	c := New(map[string]string{"pool": "test"})
	c.Spawned("a")
	c.Released("a", "detach", time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pulse_spawned_total{pool="test"} 1`)
	assert.Contains(t, string(body), `pulse_released_total{how="detach",pool="test"} 1`)
	assert.Contains(t, string(body), "pulse_slot_lifetime_seconds_bucket")
}
