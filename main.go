package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// configEnv 指定配置文件路径的环境变量，--config 优先级更高。
const configEnv = "BUNDLEHUB_CONFIG"

// cliOptions 汇总全局标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行一次 CLI 调用并返回退出码，方便测试。
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &cliOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.ExecuteContext(ctx); err != nil {
		reportError(err)
		return 1
	}
	return 0
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "bundlehub",
		Short:         "Fetch and cache versioned dataset bundles locally",
		Long:          "bundlehub downloads owner/name[@vN] bundles from the remote service, extracts them into a local cache and serves single files on demand.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.configPath = resolveConfigPath(configFlag)
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "配置文件路径（可被 "+configEnv+" 指定，未设置时仅使用环境变量与默认值）")

	root.AddCommand(
		downloadCmd(opts),
		fileCmd(opts),
		filesCmd(opts),
		prefetchCmd(opts),
		updateCmd(opts),
		currentCmd(opts),
		versionInfoCmd(opts),
		metadataCmd(opts),
		cacheCmd(opts),
		checkConfigCmd(opts),
		versionCmd(),
	)
	return root
}

// resolveConfigPath 结合 flag 与环境变量计算最终的配置路径，flag 优先。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(configEnv)
}

// reportError 以 error[<kind>]: <message> 的格式输出错误。
func reportError(err error) {
	var typed *apperr.Error
	if errors.As(err, &typed) && error(typed) == err {
		fmt.Fprintf(stdErr, "error[%s]: %s\n", typed.Kind, typed.Detail())
		return
	}
	if errors.As(err, &typed) {
		fmt.Fprintf(stdErr, "error[%s]: %v\n", typed.Kind, err)
		return
	}
	fmt.Fprintf(stdErr, "error: %v\n", err)
}
