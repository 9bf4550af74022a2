package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"edutrail/retention"
)

func (c *cli) retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "版本保留清理",
	}

	var loop, dryRun bool
	run := &cobra.Command{
		Use:   "run",
		Short: "按 max_age 与 max_per_entity 清理旧版本",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				policy := a.Retention.Policy()
				policy.DryRun = true
				a.Retention = retention.NewManager(a.VersionLog, policy, retention.Options{Metrics: a.Metrics})
			}

			if !loop {
				res, err := a.Retention.Run(ctx)
				if err != nil {
					return err
				}
				return c.printRetention(res)
			}

			// 常驻：定时清理，同时启动通知传输与 /metrics，收到信号后退出
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	run.Flags().BoolVar(&loop, "loop", false, "按 retention.interval 定时运行直到收到退出信号")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "只统计将被删除的数量")

	cmd.AddCommand(run)
	return cmd
}

func (c *cli) printRetention(res *retention.Result) error {
	if c.jsonOut {
		return c.printJSON(res)
	}
	mode := "deleted"
	if res.DryRun {
		mode = "would delete"
	}
	c.printf("%s %d versions (age %d, cap %d, items scanned %d) in %s\n",
		mode, res.Total(), res.AgeDeleted, res.CapDeleted, res.ItemsScanned, res.Duration)
	return nil
}
