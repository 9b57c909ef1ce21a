package voicesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchNil(t *testing.T) {
	m, _ := newTestManager(t, Callbacks{})
	m.router.Dispatch(nil) // must not panic
}

func TestRouterRegisterExtendsVocabulary(t *testing.T) {
	m, _ := newTestManager(t, Callbacks{})

	var got *ServerEvent
	custom := ServerEventType("vendor.experimental")
	m.router.Register(custom, func(ev *ServerEvent) { got = ev })

	m.feed(t, `{"event_id":"e1","type":"vendor.experimental","anything":true}`)

	require.NotNil(t, got)
	assert.Equal(t, custom, got.Type)
	assert.Nil(t, got.Payload)
}

func TestRouterRegisterReplacesHandler(t *testing.T) {
	m, _ := newTestManager(t, Callbacks{})

	called := false
	m.router.Register(ServerEventTypeRateLimitsUpdated, func(*ServerEvent) { called = true })
	m.feed(t, `{"event_id":"e1","type":"rate_limits.updated","rate_limits":[{"name":"requests","limit":100}]}`)

	assert.True(t, called)
}
