package audited

import (
	"fmt"
	"reflect"
	"sort"

	"edutrail/errors"
	"edutrail/snapshot"
	"edutrail/validation"
	"edutrail/versionlog"
)

// TypeHandle 一种审计实体类型的静态描述
type TypeHandle struct {
	Name   string // 类型标签，如 BookSection
	Table  string
	Fields []FieldSpec

	// TitleField 摘要等场景用于展示的字段
	TitleField string

	// Check 跨字段校验（可选）
	Check func(fields snapshot.Fields) error

	index map[string]int
}

func (h *TypeHandle) init() error {
	if h.Name == "" || h.Table == "" {
		return fmt.Errorf("type handle requires name and table")
	}
	h.index = make(map[string]int, len(h.Fields))
	for i, f := range h.Fields {
		if _, dup := h.index[f.Name]; dup {
			return fmt.Errorf("type %s: duplicate field %s", h.Name, f.Name)
		}
		h.index[f.Name] = i
	}
	return nil
}

// Field 按名称查找被跟踪字段
func (h *TypeHandle) Field(name string) (FieldSpec, bool) {
	i, ok := h.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return h.Fields[i], true
}

// FieldNames 被跟踪字段名，按声明顺序
func (h *TypeHandle) FieldNames() []string {
	names := make([]string, len(h.Fields))
	for i, f := range h.Fields {
		names[i] = f.Name
	}
	return names
}

// Project 只保留被跟踪字段并规范类型；缺失或类型不符的字段为 nil
func (h *TypeHandle) Project(fields snapshot.Fields) snapshot.Fields {
	out := make(snapshot.Fields, len(h.Fields))
	for _, spec := range h.Fields {
		v, ok := spec.Coerce(fields[spec.Name])
		if !ok {
			v = nil
		}
		out[spec.Name] = v
	}
	return out
}

// Merge 以 base 为底，用 changes 中的被跟踪字段覆盖；未知字段返回 INVALID_INPUT
func (h *TypeHandle) Merge(base, changes snapshot.Fields) (snapshot.Fields, error) {
	out := h.Project(base)
	for name, raw := range changes {
		spec, ok := h.Field(name)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("%s 没有可编辑字段 %s", h.Name, name))
		}
		v, ok := spec.Coerce(raw)
		if !ok {
			return nil, errors.NewError(errors.ErrCodeValidation,
				fmt.Sprintf("%s 应为 %s 类型", name, spec.Kind))
		}
		out[name] = v
	}
	return out, nil
}

// Validate 普通写入前的完整校验
func (h *TypeHandle) Validate(fields snapshot.Fields) error {
	var errs validation.Errors
	for _, spec := range h.Fields {
		v := fields[spec.Name]
		if v == nil {
			if spec.Required {
				errs.Add(spec.Name, validation.ValidateRequired("", spec.Name))
			}
			continue
		}
		if s, ok := v.(string); ok && spec.Required {
			errs.Add(spec.Name, validation.ValidateRequired(s, spec.Name))
		}
		if spec.Validate != nil {
			errs.Add(spec.Name, spec.Validate(v))
		}
	}
	if errs.Empty() && h.Check != nil {
		errs.Add("_record", h.Check(fields))
	}
	return errs.Err()
}

// Diff 计算两个投影状态间的变更集
func (h *TypeHandle) Diff(before, after snapshot.Fields) versionlog.Changeset {
	out := make(versionlog.Changeset)
	for _, spec := range h.Fields {
		b, a := before[spec.Name], after[spec.Name]
		if !reflect.DeepEqual(b, a) {
			out[spec.Name] = versionlog.Change{Old: b, New: a}
		}
	}
	return out
}

// Registry 类型标签到类型描述的静态映射，也是审计白名单
type Registry struct {
	handles map[string]*TypeHandle
}

// NewRegistry 启动时构造注册表
func NewRegistry(handles ...*TypeHandle) (*Registry, error) {
	r := &Registry{handles: make(map[string]*TypeHandle, len(handles))}
	for _, h := range handles {
		if err := h.init(); err != nil {
			return nil, err
		}
		if _, dup := r.handles[h.Name]; dup {
			return nil, fmt.Errorf("type %s registered twice", h.Name)
		}
		r.handles[h.Name] = h
	}
	return r, nil
}

// Lookup 查找类型，不在白名单内返回 INVALID_TARGET
func (r *Registry) Lookup(itemType string) (*TypeHandle, error) {
	h, ok := r.handles[itemType]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeInvalidTarget,
			fmt.Sprintf("类型 %q 不在审计白名单内", itemType)).WithContext("item_type", itemType)
	}
	return h, nil
}

// Allowed 是否为白名单类型
func (r *Registry) Allowed(itemType string) bool {
	_, ok := r.handles[itemType]
	return ok
}

// Types 白名单类型，按名称排序
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handles))
	for name := range r.handles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handles 全部类型描述，按名称排序
func (r *Registry) Handles() []*TypeHandle {
	out := make([]*TypeHandle, 0, len(r.handles))
	for _, name := range r.Types() {
		out = append(out, r.handles[name])
	}
	return out
}
