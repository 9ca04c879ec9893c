package datetime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedConnector(t *testing.T) *Connector {
	t.Helper()
	c := New()
	c.now = func() time.Time {
		return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	}
	return c
}

func call(t *testing.T, c *Connector, name, args string) map[string]any {
	t.Helper()
	for _, tool := range c.Tools() {
		if tool.Name != name {
			continue
		}
		out, err := tool.Call(context.Background(), json.RawMessage(args))
		require.NoError(t, err)

		data, err := json.Marshal(out)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestNow(t *testing.T) {
	c := fixedConnector(t)

	out := call(t, c, "datetime_now", `{}`)
	assert.Equal(t, "2025-03-14T15:09:26Z", out["time"])
	assert.Equal(t, "Friday", out["weekday"])
}

func TestNowInTimezone(t *testing.T) {
	c := fixedConnector(t)

	out := call(t, c, "datetime_now", `{"timezone":"America/New_York"}`)
	assert.Equal(t, "America/New_York", out["timezone"])
	assert.Equal(t, "2025-03-14T11:09:26-04:00", out["time"])
}

func TestNowUnknownTimezone(t *testing.T) {
	c := fixedConnector(t)
	_, err := c.callNow(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	c := fixedConnector(t)

	out := call(t, c, "datetime_convert", `{"time":"2025-06-01T12:00:00Z","to_timezone":"Asia/Tokyo"}`)
	assert.Equal(t, "2025-06-01T21:00:00+09:00", out["time"])
}

func TestConvertFromTimezone(t *testing.T) {
	c := fixedConnector(t)

	out := call(t, c, "datetime_convert",
		`{"time":"2025-06-01 12:00","from_timezone":"Europe/Berlin","to_timezone":"UTC"}`)
	assert.Equal(t, "2025-06-01T10:00:00Z", out["time"])
}

func TestDiff(t *testing.T) {
	c := fixedConnector(t)

	out := call(t, c, "datetime_diff", `{"start":"2025-01-01T00:00:00Z","end":"2025-01-02T06:00:00Z"}`)
	assert.Equal(t, "30h0m0s", out["duration"])
	assert.Equal(t, float64(108000), out["seconds"])
}

func TestHealthCheckAlwaysPasses(t *testing.T) {
	assert.NoError(t, New().HealthCheck(context.Background()))
}
