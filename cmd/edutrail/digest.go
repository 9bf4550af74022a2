package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"edutrail/digest"
	"edutrail/errors"
)

func (c *cli) digestCmd() *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "汇总时间窗口内的编辑，默认上一个整点小时",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := digest.PreviousHour(time.Now())
			var err error
			if since != "" {
				if from, err = time.Parse(time.RFC3339, since); err != nil {
					return errors.WrapError(err, errors.ErrCodeInvalidInput, "--since 需要 RFC3339 时间")
				}
			}
			if until != "" {
				if to, err = time.Parse(time.RFC3339, until); err != nil {
					return errors.WrapError(err, errors.ErrCodeInvalidInput, "--until 需要 RFC3339 时间")
				}
			}
			if !from.Before(to) {
				return errors.NewError(errors.ErrCodeInvalidInput, "--since 必须早于 --until")
			}

			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Digest.Collect(ctx, from.UTC(), to.UTC())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(d)
			}
			if d.Empty() {
				c.printf("no edits between %s and %s\n", d.Since.Format(time.RFC3339), d.Until.Format(time.RFC3339))
				return nil
			}
			w := c.table()
			fmt.Fprintln(w, "AT\tITEM\tTITLE\tACTOR\tFIELDS")
			for _, e := range d.Entries {
				fmt.Fprintf(w, "%s\t%s#%d\t%s\t%s\t%s\n",
					e.At.Format("15:04:05"), e.ItemType, e.ItemID, e.Title, deref(e.Actor), strings.Join(e.Fields, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "窗口起点（含），RFC3339")
	cmd.Flags().StringVar(&until, "until", "", "窗口终点（不含），RFC3339")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
