// Package validation 提供字段级校验函数与多字段错误汇总
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"edutrail/errors"
)

// ValidateStringLength 验证字符串长度（按字符计数）
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if length < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能少于%d个字符（当前%d）", fieldName, min, length))
	}
	if max > 0 && length > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s长度不能超过%d个字符（当前%d）", fieldName, max, length))
	}
	return nil
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateIntRange 验证整数范围（闭区间）
func ValidateIntRange(value int64, fieldName string, min, max int64) error {
	if value < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能小于%d（当前%d）", fieldName, min, value))
	}
	if value > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能大于%d（当前%d）", fieldName, max, value))
	}
	return nil
}

// ValidatePositive 验证正数
func ValidatePositive(value int64, fieldName string) error {
	if value <= 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s必须为正数（当前%d）", fieldName, value))
	}
	return nil
}

// Errors 汇总多个字段的校验错误
type Errors struct {
	fields map[string]string
}

// Add 记录字段错误，err 为 nil 时忽略；同一字段只保留第一条
func (e *Errors) Add(field string, err error) {
	if err == nil {
		return
	}
	if e.fields == nil {
		e.fields = make(map[string]string)
	}
	if _, exists := e.fields[field]; exists {
		return
	}
	msg := err.Error()
	if appErr, ok := err.(errors.IError); ok {
		msg = appErr.Message()
	}
	e.fields[field] = msg
}

// Empty 是否没有错误
func (e *Errors) Empty() bool {
	return len(e.fields) == 0
}

// Err 转换为 VALIDATION_ERROR，字段错误放入 details["fields"]
func (e *Errors) Err() error {
	if e.Empty() {
		return nil
	}
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	details := make(map[string]string, len(names))
	for _, name := range names {
		parts = append(parts, e.fields[name])
		details[name] = e.fields[name]
	}
	return errors.NewError(errors.ErrCodeValidation, strings.Join(parts, "; ")).
		WithContext("fields", details)
}
