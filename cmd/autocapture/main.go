// Command autocapture captures the screen on a fixed interval and posts each
// capture with host and location metadata to a webhook.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const name = "autocapture"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		code := 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		stop()
		os.Exit(code)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Capture the screen periodically and deliver it to a webhook",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the JSON or YAML settings document",
				Sources: cli.EnvVars("AUTOCAPTURE_CONFIG"),
				Value:   "auto_config.json",
			},
			&cli.BoolFlag{
				Name:  "init",
				Usage: "write a default settings document and exit",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "perform a single capture and exit",
			},
		},
		// main maps errors onto exit codes; keep the library from exiting.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, runOptions{
				ConfigPath: cmd.String("config"),
				Init:       cmd.Bool("init"),
				Once:       cmd.Bool("once"),
			})
		},
	}
}
