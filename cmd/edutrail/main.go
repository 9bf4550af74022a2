// edutrail 命令行：建表、保留清理、版本查询与回滚、编辑摘要
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"edutrail/app"
	"edutrail/config"
	"edutrail/domain/audited"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli 各子命令共享的全局参数
type cli struct {
	configPath string
	actor      string
	jsonOut    bool
	out        io.Writer
	appOpts    []app.Option
}

func newRootCmd(out io.Writer, opts ...app.Option) *cobra.Command {
	c := &cli{out: out, appOpts: opts}
	root := &cobra.Command{
		Use:           "edutrail",
		Short:         "课程内容版本历史与回滚工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "配置文件路径，默认读取当前目录的 config.yaml")
	root.PersistentFlags().StringVar(&c.actor, "actor", "", "记录到版本中的操作者 ID")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "以 JSON 输出")

	root.AddCommand(
		c.migrateCmd(),
		c.retentionCmd(),
		c.versionsCmd(),
		c.digestCmd(),
	)
	return root
}

// open 加载配置并组装应用，返回的 ctx 携带操作者
func (c *cli) open(cmd *cobra.Command) (*app.App, context.Context, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	app.ConfigureLogging(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if c.actor != "" {
		ctx = audited.WithActor(ctx, c.actor)
	}
	a, err := app.New(ctx, cfg, c.appOpts...)
	if err != nil {
		return nil, nil, err
	}
	return a, ctx, nil
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建版本表与审计实体表",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "schema ok")
			return nil
		},
	}
}
