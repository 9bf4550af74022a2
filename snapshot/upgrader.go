package snapshot

import (
	"fmt"
	"sort"
)

// Upgrader 将某一 schema 的字段集升级到更高 schema
type Upgrader interface {
	FromVersion() int
	ToVersion() int
	Upgrade(fields Fields) (Fields, error)
}

type upgraderChain struct {
	list []Upgrader
}

func (c *upgraderChain) register(u Upgrader) error {
	if u == nil {
		return fmt.Errorf("snapshot upgrader cannot be nil")
	}
	if u.FromVersion() <= 0 || u.ToVersion() <= u.FromVersion() {
		return fmt.Errorf("snapshot upgrader %d->%d: invalid versions", u.FromVersion(), u.ToVersion())
	}
	for _, existing := range c.list {
		if existing.FromVersion() == u.FromVersion() {
			return fmt.Errorf("snapshot upgrader from version %d already registered", u.FromVersion())
		}
	}
	c.list = append(c.list, u)
	sort.Slice(c.list, func(i, j int) bool { return c.list[i].FromVersion() < c.list[j].FromVersion() })
	return nil
}

func (c *upgraderChain) upgrade(from, to int, fields Fields) (Fields, error) {
	result := fields.Clone()
	version := from
	for version < to {
		next := c.find(version)
		if next == nil {
			return nil, fmt.Errorf("cannot upgrade snapshot from schema %d to %d: missing upgrader", version, to)
		}
		upgraded, err := next.Upgrade(result)
		if err != nil {
			return nil, fmt.Errorf("upgrade snapshot from schema %d failed: %w", version, err)
		}
		result = upgraded.Clone()
		version = next.ToVersion()
	}
	return result, nil
}

func (c *upgraderChain) find(from int) Upgrader {
	for _, u := range c.list {
		if u.FromVersion() == from {
			return u
		}
	}
	return nil
}

// LegacyAttributesUpgrader schema 1 -> 2。
//
// schema 1 是整行属性的直接序列化，包含主键、锁版本与时间戳等簿记列，
// 这些列不属于被跟踪字段，升级时移除。
type LegacyAttributesUpgrader struct{}

var legacyBookkeeping = []string{"id", "lock_version", "created_at", "updated_at"}

func (LegacyAttributesUpgrader) FromVersion() int { return 1 }
func (LegacyAttributesUpgrader) ToVersion() int   { return 2 }

func (LegacyAttributesUpgrader) Upgrade(fields Fields) (Fields, error) {
	out := fields.Clone()
	for _, key := range legacyBookkeeping {
		delete(out, key)
	}
	return out, nil
}
