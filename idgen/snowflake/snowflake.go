// Package snowflake 为版本记录与新建实体生成按时间递增的 int64 ID
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNode     = -1 ^ (-1 << nodeBits)     // 1023
	maxSequence = -1 ^ (-1 << sequenceBits) // 4095

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// IDGenerator ID 生成器接口，便于测试替换
type IDGenerator interface {
	NextID() (int64, error)
}

// Generator Snowflake ID生成器
type Generator struct {
	mu            sync.Mutex
	node          int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// NewGenerator 创建ID生成器，node 取值 [0, 1023]
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, errors.New("snowflake: node id out of range")
	}
	return &Generator{
		node:          node,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 生成下一个ID；时钟回拨时返回错误
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastTimestamp {
		return 0, errors.New("snowflake: clock moved backwards, refusing to generate id")
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= g.lastTimestamp {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampShift) | (g.node << nodeShift) | g.sequence, nil
}

// Time 从 ID 中还原生成时间
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch).UTC()
}

// Node 从 ID 中还原节点号
func Node(id int64) int64 {
	return (id >> nodeShift) & maxNode
}
