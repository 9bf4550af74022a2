// Package snapshot 负责实体被跟踪字段的持久化编码。
//
// 载荷格式为带版本标签的信封：
//
//	{"schema": 2, "fields": {"heading": "...", "position": 3}}
//
// 没有信封的裸 JSON 对象视为 schema 1（早期直接序列化整行属性），
// 解码时经升级链转换到当前 schema。解码只解析一次，不做多格式尝试。
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"edutrail/errors"
)

// CurrentSchema 当前写入的快照 schema 版本
const CurrentSchema = 2

// legacySchema 无信封的裸对象
const legacySchema = 1

// Fields 被跟踪字段的取值，值类型限定为 nil、string、bool、int64、float64
// 以及由它们组成的 []any / map[string]any
type Fields map[string]any

// Clone 浅拷贝
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type envelope struct {
	Schema int    `json:"schema"`
	Fields Fields `json:"fields"`
}

// Codec 快照编解码器
type Codec struct {
	target    int
	upgraders *upgraderChain
}

// NewCodec 创建编解码器，upgraders 必须能把任一旧 schema 逐级升级到 CurrentSchema
func NewCodec(upgraders ...Upgrader) (*Codec, error) {
	chain := &upgraderChain{}
	for _, u := range upgraders {
		if err := chain.register(u); err != nil {
			return nil, err
		}
	}
	return &Codec{target: CurrentSchema, upgraders: chain}, nil
}

var defaultCodec = mustDefault()

func mustDefault() *Codec {
	c, err := NewCodec(LegacyAttributesUpgrader{})
	if err != nil {
		panic(err)
	}
	return c
}

// Default 返回注册了内置升级器的编解码器
func Default() *Codec {
	return defaultCodec
}

// Encode 使用默认编解码器编码
func Encode(fields Fields) ([]byte, error) {
	return defaultCodec.Encode(fields)
}

// Decode 使用默认编解码器解码
func Decode(data []byte) (Fields, error) {
	return defaultCodec.Decode(data)
}

// Encode 将字段编码为当前 schema 的信封
func (c *Codec) Encode(fields Fields) ([]byte, error) {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = encodableValue(v)
	}
	data, err := json.Marshal(envelope{Schema: c.target, Fields: out})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "快照编码失败")
	}
	return data, nil
}

// Decode 解码快照，必要时按升级链升级到当前 schema。
//
// 仅当载荷不是可解析的 JSON 对象时返回 CORRUPT_SNAPSHOT；
// 字段缺失或类型异常交由调用方按字段降级处理。
func (c *Codec) Decode(data []byte) (Fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.NewError(errors.ErrCodeCorruptSnapshot, "快照为空")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCorruptSnapshot, "快照无法解析")
	}
	if dec.More() {
		return nil, errors.NewError(errors.ErrCodeCorruptSnapshot, "快照包含多余数据")
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("快照应为 JSON 对象, 实际为 %T", raw))
	}

	schema, fields := unwrap(obj)
	fields = normalizeFields(fields)
	if schema >= c.target {
		// 更新的 schema：按当前理解读取，未知字段由类型投影丢弃
		return fields, nil
	}

	upgraded, err := c.upgraders.upgrade(schema, c.target, fields)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCorruptSnapshot, "快照升级失败")
	}
	return upgraded, nil
}

// unwrap 识别信封；同时具备整数 schema 与对象 fields 才视为信封
func unwrap(obj map[string]any) (int, Fields) {
	tag, hasTag := obj["schema"].(json.Number)
	inner, hasFields := obj["fields"].(map[string]any)
	if hasTag && hasFields {
		if n, err := tag.Int64(); err == nil && n > 0 {
			return int(n), Fields(inner)
		}
	}
	return legacySchema, Fields(obj)
}

func normalizeFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue 整数统一为 int64，其余数字为 float64
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

func encodableValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// NormalizeValue 将 json.Number 等解码中间值规范为快照值类型，
// 供同样以 UseNumber 解码的变更集复用
func NormalizeValue(v any) any {
	return normalizeValue(v)
}
