package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evpower/csms/internal/adapter/bus"
	"github.com/evpower/csms/internal/mocks"
)

func TestRedisCacheOperations(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()
	c := env.Cache

	t.Run("SetGetDelete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "it:key", "value", time.Minute))
		got, err := c.Get(ctx, "it:key")
		require.NoError(t, err)
		require.Equal(t, "value", got)

		require.NoError(t, c.Delete(ctx, "it:key"))
		got, err = c.Get(ctx, "it:key")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("IncrIsMonotonic", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "it:counter"))
		first, err := c.Incr(ctx, "it:counter")
		require.NoError(t, err)
		second, err := c.Incr(ctx, "it:counter")
		require.NoError(t, err)
		require.Equal(t, first+1, second)
	})

	t.Run("Sets", func(t *testing.T) {
		require.NoError(t, c.SetAdd(ctx, "it:set", "a"))
		require.NoError(t, c.SetAdd(ctx, "it:set", "b"))
		require.NoError(t, c.SetAdd(ctx, "it:set", "a"))

		members, err := c.SetMembers(ctx, "it:set")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b"}, members)

		require.NoError(t, c.SetRemove(ctx, "it:set", "a"))
		members, err = c.SetMembers(ctx, "it:set")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"b"}, members)
	})
}

func TestRedisLockerFencing(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()
	c := env.Cache

	acquired, err := c.Acquire(ctx, "it:lock", "holder-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// second holder cannot steal a live lock
	acquired, err = c.Acquire(ctx, "it:lock", "holder-2", 30*time.Second)
	require.NoError(t, err)
	require.False(t, acquired)

	// renew is fenced on the token
	renewed, err := c.Renew(ctx, "it:lock", "holder-2", 30*time.Second)
	require.NoError(t, err)
	require.False(t, renewed)
	renewed, err = c.Renew(ctx, "it:lock", "holder-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, renewed)

	// release by a non-holder is a no-op
	require.NoError(t, c.Release(ctx, "it:lock", "holder-2"))
	renewed, err = c.Renew(ctx, "it:lock", "holder-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, renewed)

	require.NoError(t, c.Release(ctx, "it:lock", "holder-1"))
	acquired, err = c.Acquire(ctx, "it:lock", "holder-2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, c.Release(ctx, "it:lock", "holder-2"))
}

func TestRedisPubSubDelivery(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()
	c := env.Cache

	const channel = "it:commands:ST-001"

	count, err := c.NumSubscribers(ctx, channel)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	messages, cancel, err := c.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer cancel()

	// subscription registration is asynchronous on the server side
	require.Eventually(t, func() bool {
		n, err := c.NumSubscribers(ctx, channel)
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, c.Publish(ctx, channel, []byte(`{"name":"RemoteStartTransaction"}`)))

	select {
	case payload := <-messages:
		require.JSONEq(t, `{"name":"RemoteStartTransaction"}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("published payload never delivered")
	}
}

func TestStationRegistryEpochFencing(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()

	registry := bus.NewRegistry(env.Cache, 300*time.Second, env.Logger)

	oldSocket := &mocks.MockStationHandle{ID: "ST-REG-001"}
	first, err := registry.Register(ctx, oldSocket)
	require.NoError(t, err)

	connected, err := registry.IsConnected(ctx, "ST-REG-001")
	require.NoError(t, err)
	require.True(t, connected)

	// a reconnect takes a newer epoch and closes the old socket
	closed := false
	oldSocket.CloseFunc = func(reason string) { closed = true }
	newSocket := &mocks.MockStationHandle{ID: "ST-REG-001"}
	second, err := registry.Register(ctx, newSocket)
	require.NoError(t, err)
	require.Greater(t, second, first)
	require.True(t, closed)

	// the old socket's deferred unregister must not evict the live one
	require.NoError(t, registry.Unregister(ctx, "ST-REG-001", first))
	connected, err = registry.IsConnected(ctx, "ST-REG-001")
	require.NoError(t, err)
	require.True(t, connected)

	require.NoError(t, registry.Unregister(ctx, "ST-REG-001", second))
	connected, err = registry.IsConnected(ctx, "ST-REG-001")
	require.NoError(t, err)
	require.False(t, connected)
}
