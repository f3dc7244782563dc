package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/looptrace/internal/api"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/recorder"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
)

// errRunFailed reports a script that threw. The result has already been
// printed, so main only sets the exit status.
var errRunFailed = errors.New("run failed")

type runOptions struct {
	format  string
	settle  time.Duration
	timeout time.Duration
	verbose bool
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Execute a script once and print its traces",
		Long: `Executes the script in a fresh sandbox context, waits for the settle
window, then prints the console and the three traces. Use "-" or no
argument to read the script from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runScript(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), path, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().DurationVar(&opts.settle, "settle", sandbox.DefaultSettleWindow, "how long deferred callbacks may run before collection")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", api.DefaultRunTimeout, "abort the run after this long")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log run details to stderr")
	return cmd
}

func runScript(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, path string, opts runOptions) error {
	render, err := renderer(opts.format)
	if err != nil {
		return err
	}

	source, err := readSource(stdin, path)
	if err != nil {
		return err
	}
	if err := api.CheckSource(source); err != nil {
		return err
	}

	config := sandbox.DefaultConfig()
	config.SettleWindow = opts.settle
	rec, err := recorder.NewWithConfig(config, recorder.WithLogger(cliLogger(stderr, opts.verbose)))
	if err != nil {
		return err
	}
	defer rec.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	result, err := rec.Execute(ctx, source)
	if err != nil {
		return err
	}
	if err := render(stdout, result.Report()); err != nil {
		return err
	}
	if result.Failed() {
		return errRunFailed
	}
	return nil
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, api.MaxSourceSize+1))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// cliLogger writes warnings, such as errors thrown by deferred callbacks, to
// stderr. verbose adds per-run debug lines.
func cliLogger(w io.Writer, verbose bool) *logging.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), level)
	return logging.Wrap(zap.New(core))
}
