package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
)

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
}

// display 字段值的单行展示
func display(v any) string {
	switch val := v.(type) {
	case nil:
		return "∅"
	case string:
		if len([]rune(val)) > 60 {
			return string([]rune(val)[:57]) + "..."
		}
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprint(val)
	}
}
