package natsjetstream

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/messaging"
)

func TestNewTransport_Defaults(t *testing.T) {
	tpt := NewTransport(Config{})
	assert.Equal(t, "EDUTRAIL", tpt.cfg.Stream)
	assert.Equal(t, "edutrail.version.recorded", tpt.subjectName(messaging.TypeVersionRecorded))
	assert.Equal(t, "edutrail-version-recorded", tpt.durableName(messaging.TypeVersionRecorded))
	assert.Equal(t, 2*time.Minute, tpt.cfg.DuplicateWindow)

	sc := tpt.streamConfig()
	assert.Equal(t, []string{"edutrail.>"}, sc.Subjects)
	assert.Equal(t, nats.LimitsPolicy, sc.Retention)
}

func TestPublish_NotRunning(t *testing.T) {
	tpt := NewTransport(Config{})
	err := tpt.Publish(context.Background(), messaging.NewMessage(messaging.TypeVersionRecorded, nil))
	assert.Error(t, err)
}

func TestSubscribe_BeforeStart(t *testing.T) {
	tpt := NewTransport(Config{})
	h := messaging.NewFuncHandler("h", func(context.Context, messaging.IMessage) error { return nil })
	require.NoError(t, tpt.Subscribe(messaging.TypeVersionRecorded, h))
	require.NoError(t, tpt.Subscribe(messaging.Wildcard, h))

	stats := tpt.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 2, stats.HandlerCount)
	assert.Empty(t, tpt.consumers)

	require.NoError(t, tpt.Unsubscribe(messaging.TypeVersionRecorded, h))
	assert.Equal(t, []string{messaging.Wildcard}, tpt.Stats().MessageTypes)
}

func TestHandleMessage_DefaultType(t *testing.T) {
	tpt := NewTransport(Config{})
	var seen string
	require.NoError(t, tpt.Subscribe(messaging.TypeVersionRecorded, messaging.NewFuncHandler("h", func(_ context.Context, m messaging.IMessage) error {
		seen = m.GetType()
		return nil
	})))

	data, err := messaging.Encode(&messaging.Message{ID: "m2", Timestamp: time.Now()})
	require.NoError(t, err)
	// 未绑定订阅的消息 Ack 会返回错误，只记录日志
	tpt.handleMessage(messaging.TypeVersionRecorded)(&nats.Msg{Data: data})
	assert.Equal(t, messaging.TypeVersionRecorded, seen)
}
