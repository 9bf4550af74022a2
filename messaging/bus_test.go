package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/versionlog"
)

type mockTransport struct {
	published     []IMessage
	batch         [][]IMessage
	subscribed    map[string]int
	unsubscribed  map[string]int
	shouldError   error
	orderRecorder *[]string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		subscribed:   make(map[string]int),
		unsubscribed: make(map[string]int),
	}
}

func (m *mockTransport) Publish(ctx context.Context, message IMessage) error {
	if m.orderRecorder != nil {
		*m.orderRecorder = append(*m.orderRecorder, "transport")
	}
	m.published = append(m.published, message)
	return m.shouldError
}

func (m *mockTransport) PublishAll(ctx context.Context, messages []IMessage) error {
	m.batch = append(m.batch, messages)
	return m.shouldError
}

func (m *mockTransport) Subscribe(messageType string, handler IMessageHandler) error {
	m.subscribed[messageType]++
	return nil
}

func (m *mockTransport) Unsubscribe(messageType string, handler IMessageHandler) error {
	m.unsubscribed[messageType]++
	return nil
}

func (m *mockTransport) Start(ctx context.Context) error { return nil }
func (m *mockTransport) Close() error                    { return nil }
func (m *mockTransport) Stats() TransportStats           { return TransportStats{} }

type recordingMiddleware struct {
	name  string
	order *[]string
	err   error
}

func (mw recordingMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	*mw.order = append(*mw.order, mw.name)
	if mw.err != nil {
		return mw.err
	}
	return next(ctx, message)
}

func (mw recordingMiddleware) Name() string { return mw.name }

func TestMessageBus_PublishWithMiddleware(t *testing.T) {
	order := make([]string, 0, 3)
	transport := newMockTransport()
	transport.orderRecorder = &order

	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw1", order: &order})
	bus.Use(recordingMiddleware{name: "mw2", order: &order})

	msg := &Message{ID: "msg-1", Type: TypeVersionRecorded}
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, []string{"mw1", "mw2", "transport"}, order)
	require.Len(t, transport.published, 1)
	assert.Same(t, msg, transport.published[0])
}

func TestMessageBus_PublishAllMiddlewareError(t *testing.T) {
	order := make([]string, 0, 1)
	transport := newMockTransport()

	mwErr := errors.New("middleware failed")
	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw-error", order: &order, err: mwErr})

	err := bus.PublishAll(context.Background(), []IMessage{&Message{ID: "msg-err", Type: TypeVersionRecorded}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mwErr))
	assert.Empty(t, transport.batch)
	assert.Equal(t, []string{"mw-error"}, order)
}

func TestMessageBus_PublishAllSuccess(t *testing.T) {
	transport := newMockTransport()
	bus := NewMessageBus(transport)

	msg1 := &Message{ID: "msg-1", Type: "t"}
	msg2 := &Message{ID: "msg-2", Type: "t"}
	require.NoError(t, bus.PublishAll(context.Background(), []IMessage{msg1, msg2}))

	require.Len(t, transport.batch, 1)
	assert.Equal(t, []IMessage{msg1, msg2}, transport.batch[0])
}

func TestMessageBus_SubscribeDelegation(t *testing.T) {
	transport := newMockTransport()
	bus := NewMessageBus(transport)

	handler := NewFuncHandler("noop", func(context.Context, IMessage) error { return nil })
	require.NoError(t, bus.Subscribe(context.Background(), "test", handler))
	assert.Equal(t, 1, transport.subscribed["test"])

	require.NoError(t, bus.Unsubscribe(context.Background(), "test", handler))
	assert.Equal(t, 1, transport.unsubscribed["test"])
}

func TestMetadataMiddleware_KeepsExisting(t *testing.T) {
	transport := newMockTransport()
	bus := NewMessageBus(transport)
	bus.Use(NewMetadataMiddleware(map[string]any{"source": "edutrail", "env": "test"}))

	msg := NewMessage(TypeVersionRecorded, nil)
	msg.SetMetadata("env", "prod")
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, "edutrail", msg.Metadata["source"])
	assert.Equal(t, "prod", msg.Metadata["env"])
}

func TestCodec_RoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000).UTC()
	msg := &Message{
		ID:        "msg-1",
		Type:      TypeVersionRecorded,
		Timestamp: ts,
		Payload:   map[string]any{"version_id": 42},
		Metadata:  map[string]any{"item_key": "BookSection#7"},
	}
	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.True(t, ts.Equal(decoded.Timestamp))
	assert.Equal(t, float64(42), decoded.Payload.(map[string]any)["version_id"])
	assert.Equal(t, "BookSection#7", decoded.Metadata["item_key"])

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestVersionNotifier_Publishes(t *testing.T) {
	transport := newMockTransport()
	notifier := NewVersionNotifier(NewMessageBus(transport))

	actor := "editor-1"
	v := &versionlog.Version{
		ID:        99,
		ItemType:  "BookSection",
		ItemID:    7,
		Sequence:  3,
		Event:     versionlog.EventUpdated,
		Actor:     &actor,
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Changeset: versionlog.Changeset{
			"position": {Old: int64(1), New: int64(2)},
			"heading":  {Old: "a", New: "b"},
		},
	}
	created := &versionlog.Version{ID: 100, ItemType: "QuizQuestion", ItemID: 8, Event: versionlog.EventCreated}
	require.NoError(t, notifier.VersionsRecorded(context.Background(), []*versionlog.Version{v, created}))

	require.Len(t, transport.batch, 1)
	require.Len(t, transport.batch[0], 2)
	assert.Equal(t, "QuizQuestion#8", transport.batch[0][1].GetMetadata()["item_key"])
	msg := transport.batch[0][0]
	assert.Equal(t, TypeVersionRecorded, msg.GetType())
	assert.NotEmpty(t, msg.GetID())
	assert.Equal(t, "BookSection#7", msg.GetMetadata()["item_key"])

	payload := msg.GetPayload().(VersionRecorded)
	assert.Equal(t, int64(99), payload.VersionID)
	assert.Equal(t, "updated", payload.Event)
	assert.Equal(t, "editor-1", payload.Actor)
	assert.Equal(t, []string{"heading", "position"}, payload.ChangedFields)
}

func TestVersionNotifier_TransportError(t *testing.T) {
	transport := newMockTransport()
	transport.shouldError = errors.New("down")
	notifier := NewVersionNotifier(NewMessageBus(transport))

	err := notifier.VersionsRecorded(context.Background(), []*versionlog.Version{{ID: 1, ItemType: "BookSection", ItemID: 1, Event: versionlog.EventCreated}})
	assert.ErrorIs(t, err, transport.shouldError)

	assert.NoError(t, notifier.VersionsRecorded(context.Background(), nil))
}

func TestSubscriptions(t *testing.T) {
	subs := NewSubscriptions()
	var got []string
	record := func(name string, err error) IMessageHandler {
		return NewFuncHandler(name, func(_ context.Context, m IMessage) error {
			got = append(got, name+":"+m.GetID())
			return err
		})
	}
	exact := record("exact", nil)
	boom := errors.New("boom")
	all := record("all", boom)

	assert.True(t, subs.Add(TypeVersionRecorded, exact))
	assert.False(t, subs.Add(TypeVersionRecorded, record("second", nil)))
	assert.True(t, subs.Add(Wildcard, all))
	assert.Equal(t, TransportStats{Running: true, HandlerCount: 3, MessageTypes: []string{Wildcard, TypeVersionRecorded}}, subs.Stats(true))

	err := subs.Dispatch(context.Background(), &Message{ID: "m1", Type: TypeVersionRecorded})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "all: boom")
	assert.Equal(t, []string{"exact:m1", "second:m1", "all:m1"}, got)

	found, empty := subs.Remove(TypeVersionRecorded, exact)
	assert.True(t, found)
	assert.False(t, empty)
	found, _ = subs.Remove(TypeVersionRecorded, exact)
	assert.False(t, found)

	found, empty = subs.Remove(Wildcard, all)
	assert.True(t, found)
	assert.True(t, empty)
	assert.Equal(t, []string{TypeVersionRecorded}, subs.Types())
	assert.Len(t, subs.For("other"), 0)
}
