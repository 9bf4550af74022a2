package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"edutrail/errors"
	"edutrail/versionlog"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("无效的版本 ID %q", s))
	}
	return id, nil
}

func (c *cli) versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "查看、比较、回滚与删除版本",
	}
	cmd.AddCommand(c.versionsListCmd(), c.versionsShowCmd(), c.versionsDiffCmd(), c.versionsRevertCmd(), c.versionsDeleteCmd())
	return cmd
}

func (c *cli) versionsListCmd() *cobra.Command {
	var (
		itemType string
		itemID   int64
		event    string
		page     int
		size     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "按条件列出版本，最新的在前",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := versionlog.Filter{ItemType: itemType, Event: versionlog.Event(event)}
			if itemID > 0 {
				filter.ItemID = &itemID
			}
			res, err := a.Versions.ListVersions(ctx, filter, versionlog.Page{Number: page, Size: size})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(res)
			}
			w := c.table()
			fmt.Fprintln(w, "ID\tITEM\tSEQ\tEVENT\tACTOR\tAT\tFIELDS")
			for _, v := range res.Versions {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%d\n",
					v.ID, v.Key(), v.Sequence, v.Event, v.ActorOrEmpty(), v.CreatedAt.Format("2006-01-02 15:04:05"), len(v.Changeset))
			}
			if res.HasMore {
				fmt.Fprintf(w, "... page %d has more\n", res.Page.Number)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&itemType, "type", "", "实体类型，如 BookSection")
	cmd.Flags().Int64Var(&itemID, "item", 0, "实体 ID")
	cmd.Flags().StringVar(&event, "event", "", "created、updated 或 deleted")
	cmd.Flags().IntVar(&page, "page", 1, "页码")
	cmd.Flags().IntVar(&size, "size", versionlog.DefaultPageSize, "每页条数")
	return cmd
}

func (c *cli) versionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <version-id>",
		Short: "展示版本的全部字段前后值",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Versions.ShowVersion(ctx, id)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(view)
			}
			v := view.Version
			c.printf("version %d  %s  seq %d  %s  by %q at %s\n",
				v.ID, v.Key(), v.Sequence, v.Event, v.ActorOrEmpty(), v.CreatedAt.Format("2006-01-02 15:04:05"))
			if p := view.Neighbors.Previous; p != nil {
				c.printf("previous %d\n", p.ID)
			}
			if n := view.Neighbors.Next; n != nil {
				c.printf("next %d\n", n.ID)
			}
			w := c.table()
			fmt.Fprintln(w, "FIELD\tBEFORE\tAFTER\t")
			for _, d := range view.Diffs {
				mark := ""
				switch {
				case d.Unknown:
					mark = "?"
				case d.Changed():
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Field, display(d.Before), display(d.After), mark)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for field, lines := range view.Lines {
				c.printf("\n--- %s\n", field)
				for _, l := range lines {
					c.printf("%s\n", l)
				}
			}
			return nil
		},
	}
}

func (c *cli) versionsDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <version-id> <field>",
		Short: "单个字段在该版本前后的值",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Versions.DiffField(ctx, id, args[1])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(d)
			}
			if d.Unknown {
				c.printf("%s: unknown\n", d.Field)
				return nil
			}
			c.printf("%s: %s -> %s\n", d.Field, display(d.Before), display(d.After))
			return nil
		},
	}
}

func (c *cli) versionsRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <version-id>",
		Short: "把实体恢复到该版本发生之前的状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Versions.Revert(ctx, id)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(res)
			}
			c.printf("%s %s", res.Action, res.Target.Key())
			if res.Recorded != nil {
				c.printf(" recorded version %d", res.Recorded.ID)
			}
			c.printf("\n")
			return nil
		},
	}
}

func (c *cli) versionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <version-id>...",
		Short: "删除一个或多个版本",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(ids) == 1 {
				if err := a.Versions.DeleteVersion(ctx, ids[0]); err != nil {
					return err
				}
				c.printf("deleted 1 version\n")
				return nil
			}
			n, err := a.Versions.BulkDelete(ctx, ids)
			if err != nil {
				return err
			}
			c.printf("deleted %d versions\n", n)
			return nil
		},
	}
}
