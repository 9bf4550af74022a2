package messaging

import (
	"context"
	"sort"
	"time"

	"edutrail/logging"
	"edutrail/versionlog"
)

// VersionRecorded 版本通知载荷，不携带快照与字段值
type VersionRecorded struct {
	VersionID     int64     `json:"version_id"`
	ItemType      string    `json:"item_type"`
	ItemID        int64     `json:"item_id"`
	Sequence      int64     `json:"sequence"`
	Event         string    `json:"event"`
	Actor         string    `json:"actor,omitempty"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewVersionRecorded 由版本构造通知载荷
func NewVersionRecorded(v *versionlog.Version) VersionRecorded {
	fields := make([]string, 0, len(v.Changeset))
	for f := range v.Changeset {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return VersionRecorded{
		VersionID:     v.ID,
		ItemType:      v.ItemType,
		ItemID:        v.ItemID,
		Sequence:      v.Sequence,
		Event:         string(v.Event),
		Actor:         v.ActorOrEmpty(),
		ChangedFields: fields,
		CreatedAt:     v.CreatedAt,
	}
}

// VersionNotifier 在事务提交后把版本发布到总线，作为 audited.Listener 注册
type VersionNotifier struct {
	bus    IMessageBus
	logger logging.Logger
}

func NewVersionNotifier(bus IMessageBus) *VersionNotifier {
	return &VersionNotifier{bus: bus, logger: logging.ComponentLogger("messaging.notifier")}
}

// VersionsRecorded 一个事务的版本整批发布，每个版本一条 version.recorded 消息
func (n *VersionNotifier) VersionsRecorded(ctx context.Context, recorded []*versionlog.Version) error {
	if len(recorded) == 0 {
		return nil
	}
	msgs := make([]IMessage, 0, len(recorded))
	for _, v := range recorded {
		msgs = append(msgs, NewVersionMessage(v))
	}
	if err := n.bus.PublishAll(ctx, msgs); err != nil {
		return err
	}
	n.logger.Debug(ctx, "version notifications published",
		logging.Int("count", len(msgs)),
		logging.Int64("first_version_id", recorded[0].ID))
	return nil
}

// NewVersionMessage 版本对应的消息，metadata 带 item_key 便于按实体分区
func NewVersionMessage(v *versionlog.Version) *Message {
	msg := NewMessage(TypeVersionRecorded, NewVersionRecorded(v))
	msg.SetMetadata("item_key", v.Key().String())
	return msg
}
