package history

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// LineOp 行差异类型
type LineOp byte

const (
	LineEqual   LineOp = ' '
	LineAdded   LineOp = '+'
	LineRemoved LineOp = '-'
)

// Line 一行差异
type Line struct {
	Op   LineOp
	Text string
}

func (l Line) String() string {
	return string(l.Op) + " " + l.Text
}

// LineDiff 按行比较前后值的文本形式，用于长文本字段的展示
func LineDiff(before, after any) []Line {
	a := splitLines(textOf(before))
	b := splitLines(textOf(after))

	matcher := difflib.NewMatcher(a, b)
	var out []Line
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for _, s := range a[op.I1:op.I2] {
				out = append(out, Line{Op: LineEqual, Text: s})
			}
		case 'd':
			for _, s := range a[op.I1:op.I2] {
				out = append(out, Line{Op: LineRemoved, Text: s})
			}
		case 'i':
			for _, s := range b[op.J1:op.J2] {
				out = append(out, Line{Op: LineAdded, Text: s})
			}
		case 'r':
			for _, s := range a[op.I1:op.I2] {
				out = append(out, Line{Op: LineRemoved, Text: s})
			}
			for _, s := range b[op.J1:op.J2] {
				out = append(out, Line{Op: LineAdded, Text: s})
			}
		}
	}
	return out
}

func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
