package audited

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind 被跟踪字段的取值类型
type Kind int

const (
	KindString Kind = iota // 短文本
	KindText               // 长文本（富文本）
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// SQLType DDL 列类型
func (k Kind) SQLType() string {
	switch k {
	case KindString:
		return "VARCHAR(255)"
	case KindText:
		return "TEXT"
	case KindInt:
		return "BIGINT"
	case KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// FieldSpec 被跟踪字段的声明
type FieldSpec struct {
	Name     string
	Kind     Kind
	Nullable bool

	// Rich 普通写入前需要经过富文本清洗
	Rich bool

	// Validate 非 nil 值的字段级校验
	Validate func(value any) error

	// Required 普通写入时不可为 nil / 空白
	Required bool
}

// Coerce 将快照或输入中的值转换为字段的规范类型。
// 无法转换时返回 (nil, false)，调用方将其视为缺失值。
func (f FieldSpec) Coerce(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch f.Kind {
	case KindString, KindText:
		switch val := v.(type) {
		case string:
			return val, true
		case []byte:
			return string(val), true
		}
	case KindInt:
		switch val := v.(type) {
		case int64:
			return val, true
		case int:
			return int64(val), true
		case int32:
			return int64(val), true
		case float64:
			if val == math.Trunc(val) && !math.IsInf(val, 0) {
				return int64(val), true
			}
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return n, true
			}
		}
	case KindBool:
		switch val := v.(type) {
		case bool:
			return val, true
		case int64:
			return val != 0, true
		case string:
			if b, err := strconv.ParseBool(val); err == nil {
				return b, true
			}
		}
	}
	return nil, false
}

// Zero 非空字段缺失时的零值
func (f FieldSpec) Zero() any {
	if f.Nullable {
		return nil
	}
	switch f.Kind {
	case KindInt:
		return int64(0)
	case KindBool:
		return false
	default:
		return ""
	}
}
