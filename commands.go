package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/any-hub/bundlehub/internal/bundle"
	"github.com/any-hub/bundlehub/internal/cache"
	"github.com/any-hub/bundlehub/internal/engine"
	"github.com/any-hub/bundlehub/internal/logging"
)

// withEngine 解析 REF、构建会话并执行 fn，结束后导出指标。
func withEngine(opts *cliOptions, raw string, fn func(*engine.Engine, bundle.Ref) error) error {
	ref, err := bundle.Parse(raw)
	if err != nil {
		return err
	}
	sess, err := openSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	return fn(sess.engine, ref)
}

func downloadCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download REF",
		Short: "Download a bundle and print its local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				dir, err := eng.Download(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdOut, dir)
				return nil
			})
		},
	}
}

func fileCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "file REF NAME",
		Short: "Fetch a single file of a bundle and print its local path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				path, err := eng.GetFile(cmd.Context(), ref, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(stdOut, path)
				return nil
			})
		},
	}
}

func filesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "files REF",
		Short: "List the files of a bundle as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				files, err := eng.ListFiles(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if files == nil {
					files = []engine.FileInfo{}
				}
				return writeJSON(files)
			})
		},
	}
}

func prefetchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch REF NAME...",
		Short: "Fetch several files concurrently and report per-file results",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				return writeJSON(eng.PrefetchFiles(cmd.Context(), ref, args[1:]))
			})
		},
	}
}

func updateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update REF",
		Short: "Discard the cached copy of a bundle and download it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				dir, err := eng.Update(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdOut, dir)
				return nil
			})
		},
	}
}

func currentCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current REF",
		Short: "Print the current remote version of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				v, err := eng.CurrentVersion(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdOut, v)
				return nil
			})
		},
	}
}

func versionInfoCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version-info REF",
		Short: "Compare the cached version of a bundle with the remote one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				info, err := eng.VersionInfo(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return writeJSON(info)
			})
		},
	}
}

func metadataCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata REF",
		Short: "Print the remote metadata document of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, args[0], func(eng *engine.Engine, ref bundle.Ref) error {
				raw, err := eng.Metadata(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return writeJSON(raw)
			})
		},
	}
}

// evictionOutput 是 cache evict 的输出格式。
type evictionOutput struct {
	BeforeMB uint64   `json:"before_mb"`
	AfterMB  uint64   `json:"after_mb"`
	Evicted  []string `json:"evicted"`
	Failures []string `json:"failures,omitempty"`
}

func newEvictionOutput(report cache.EvictionReport) evictionOutput {
	out := evictionOutput{
		BeforeMB: report.BeforeMB,
		AfterMB:  report.AfterMB,
		Evicted:  make([]string, 0, len(report.Evicted)),
	}
	for _, entry := range report.Evicted {
		out.Evicted = append(out.Evicted, entry.Metadata.DatasetPath)
	}
	for _, failure := range report.Failures {
		out.Failures = append(out.Failures, fmt.Sprintf("%s: %v", failure.Dir, failure.Err))
	}
	return out
}

func cacheCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local cache",
	}

	withSession := func(fn func(*session) error) error {
		sess, err := openSession(opts)
		if err != nil {
			return err
		}
		defer sess.close()
		return fn(sess)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Print cache usage as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(func(sess *session) error {
					info, err := sess.engine.CacheInfo()
					if err != nil {
						return err
					}
					return writeJSON(info)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached bundle",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(func(sess *session) error {
					if err := sess.engine.ClearCache(); err != nil {
						return err
					}
					fmt.Fprintln(stdOut, sess.engine.Store().Root())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "evict",
			Short: "Evict least recently downloaded bundles until the cache fits its limit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(func(sess *session) error {
					report, err := sess.engine.EnforceBudget()
					if werr := writeJSON(newEvictionOutput(report)); werr != nil {
						return werr
					}
					return err
				})
			},
		},
	)
	return cmd
}

func checkConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", opts.configPath)
			for k, v := range logging.EngineFields(cfg.CacheDir, cfg.APIBase, cfg.CacheSizeLimit.String(),
				cfg.CacheLimitMode, cfg.AuthMode(), cfg.Offline, cfg.StrictOnDemand) {
				fields[k] = v
			}
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			fmt.Fprintln(stdOut, "ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

// writeJSON 以缩进格式输出 v。
func writeJSON(v any) error {
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
