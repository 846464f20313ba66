package main

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		configPath    string
		logLevel      string
		highWaterMark int
		printMetrics  bool
	)
	cmd := &cobra.Command{
		Use:   "streampipe [flags] [stage...]",
		Short: "Copy stdin to stdout through a chain of line stages",
		Long: `streampipe - copy stdin to stdout, line by line, through a chain of stages.

Stages:
  upper          convert to upper case
  lower          convert to lower case
  prefix=TEXT    prepend TEXT
  suffix=TEXT    append TEXT
  grep=REGEXP    keep matching lines
  number         prepend the line number and a tab
  head=N         keep the first N lines
  jq=QUERY       run a jq QUERY against each line of JSON
  rate=N         pass at most N lines per second

Stages given as arguments follow those read from --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := new(Config)
			if configPath != `` {
				var err error
				if cfg, err = loadConfig(configPath); err != nil {
					return err
				}
			}
			for _, arg := range args {
				sc, err := parseStage(arg)
				if err != nil {
					return err
				}
				cfg.Stages = append(cfg.Stages, sc)
			}
			if cmd.Flags().Changed("high-water-mark") || cfg.HighWaterMark == 0 {
				cfg.HighWaterMark = highWaterMark
			}
			if cmd.Flags().Changed("log-level") || cfg.LogLevel == `` {
				cfg.LogLevel = logLevel
			}
			if cfg.HighWaterMark < 0 {
				return fmt.Errorf("invalid high water mark %d", cfg.HighWaterMark)
			}

			level, err := parseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := stumpy.L.New(
				stumpy.L.WithStumpy(stumpy.WithWriter(cmd.ErrOrStderr())),
				stumpy.L.WithLevel(level),
			).Logger()

			if printMetrics {
				cfg.Metrics = true
			}
			var metrics *pipelineMetrics
			if cfg.Metrics {
				metrics = newPipelineMetrics()
			}
			if err := run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger, metrics); err != nil {
				return err
			}
			if metrics != nil {
				return metrics.write(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", ``, "YAML pipeline config file")
	cmd.Flags().StringVar(&logLevel, "log-level", logiface.LevelWarning.String(), "log level (debug, info, warning, err, ...)")
	cmd.Flags().IntVar(&highWaterMark, "high-water-mark", 0, "high water mark of every stream, in bytes or lines, 0 for the defaults")
	cmd.Flags().BoolVar(&printMetrics, "metrics", false, "write stream metrics to stderr on completion")
	return cmd
}
