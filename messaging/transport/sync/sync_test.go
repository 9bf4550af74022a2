package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/messaging"
)

func counter(n *int) *messaging.FuncHandler {
	return messaging.NewFuncHandler("count", func(context.Context, messaging.IMessage) error {
		*n++
		return nil
	})
}

func TestTransport_PublishFlow(t *testing.T) {
	tpt := NewTransport()
	require.NoError(t, tpt.Start(context.Background()))
	defer tpt.Close()

	var exact, all int
	require.NoError(t, tpt.Subscribe(messaging.TypeVersionRecorded, counter(&exact)))
	require.NoError(t, tpt.Subscribe(messaging.Wildcard, counter(&all)))

	require.NoError(t, tpt.Publish(context.Background(), messaging.NewMessage(messaging.TypeVersionRecorded, nil)))
	require.NoError(t, tpt.Publish(context.Background(), messaging.NewMessage("other", nil)))
	assert.Equal(t, 1, exact)
	assert.Equal(t, 2, all)

	stats := tpt.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.HandlerCount)
}

func TestTransport_NotRunning(t *testing.T) {
	tpt := NewTransport()
	err := tpt.Publish(context.Background(), messaging.NewMessage("x", nil))
	assert.Error(t, err)
}

func TestTransport_HandlerErrorsJoined(t *testing.T) {
	tpt := NewTransport()
	require.NoError(t, tpt.Start(context.Background()))

	boom := errors.New("boom")
	var calls int
	require.NoError(t, tpt.Subscribe("T", messaging.NewFuncHandler("bad", func(context.Context, messaging.IMessage) error { return boom })))
	require.NoError(t, tpt.Subscribe("T", counter(&calls)))

	err := tpt.Publish(context.Background(), messaging.NewMessage("T", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
}

func TestTransport_Unsubscribe(t *testing.T) {
	tpt := NewTransport()
	var n int
	h := counter(&n)
	require.NoError(t, tpt.Subscribe("T", h))
	require.NoError(t, tpt.Unsubscribe("T", h))
	assert.Error(t, tpt.Unsubscribe("T", h))
}
