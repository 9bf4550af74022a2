package messaging

import (
	"encoding/json"
	"time"

	"edutrail/errors"
)

// wireMessage 跨进程传输的消息格式，时间戳为 Unix 纳秒
type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata"`
}

// Encode 序列化消息
func Encode(msg IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "消息载荷无法序列化")
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(wireMessage{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  msg.GetMetadata(),
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "消息无法序列化")
	}
	return data, nil
}

// Decode 反序列化消息，载荷解码为通用 JSON 值
func Decode(data []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "消息格式错误")
	}
	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeQueue, "消息载荷格式错误")
		}
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]any)
	}
	return &Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp).UTC(),
		Payload:   payload,
		Metadata:  wire.Metadata,
	}, nil
}
