package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_RegisterAndLookupCapability(t *testing.T) {
	c := New(nil, nil, nil)
	err := c.Register(context.Background(), AgentCard{
		Name:         "weather-agent",
		Endpoint:     "http://weather:9000",
		Capabilities: []string{"get_forecast", "get_alerts"},
	})
	require.NoError(t, err)

	agents := c.LookupCapability("get_forecast")
	require.Len(t, agents, 1)
	assert.Equal(t, "weather-agent", agents[0].Name)

	assert.Empty(t, c.LookupCapability("unknown_capability"))
}

func TestCatalog_MultipleAgentsSameCapability(t *testing.T) {
	c := New(nil, nil, nil)
	require.NoError(t, c.Register(context.Background(), AgentCard{Name: "a", Endpoint: "http://a", Capabilities: []string{"shared"}}))
	require.NoError(t, c.Register(context.Background(), AgentCard{Name: "b", Endpoint: "http://b", Capabilities: []string{"shared"}}))

	agents := c.LookupCapability("shared")
	assert.Len(t, agents, 2)
}

func TestCatalog_OfflineAgentExcludedFromLookup(t *testing.T) {
	c := New(nil, nil, nil)
	require.NoError(t, c.Register(context.Background(), AgentCard{Name: "a", Endpoint: "http://a", Capabilities: []string{"x"}}))
	c.MarkStatus("a", StatusOffline)

	assert.Empty(t, c.LookupCapability("x"), "offline agents must not be returned by capability lookup")

	entry, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "http://a", entry.Card.Endpoint, "offline agent must keep its last-known card")
}

func TestHealthPoller_MarksOfflineOnFailure(t *testing.T) {
	c := New(nil, nil, nil)
	require.NoError(t, c.Register(context.Background(), AgentCard{Name: "dead", Endpoint: "http://127.0.0.1:1", Capabilities: []string{"x"}}))

	poller := NewHealthPoller(c, time.Hour, nil)
	poller.pollOnce(context.Background())

	entry, ok := c.Get("dead")
	require.True(t, ok)
	assert.Equal(t, StatusOffline, entry.Status)
}

func TestHealthPoller_MarksOnlineOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(nil, nil, nil)
	require.NoError(t, c.Register(context.Background(), AgentCard{Name: "live", Endpoint: server.URL, Capabilities: []string{"x"}}))
	c.MarkStatus("live", StatusOffline)

	poller := NewHealthPoller(c, time.Hour, nil)
	poller.pollOnce(context.Background())

	entry, ok := c.Get("live")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, entry.Status)
}
