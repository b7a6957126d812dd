package cmd

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/egdb/repl"
)

var (
	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Run an interactive console session",
		Args:  cobra.NoArgs,
		RunE:  shellRun,
	}
)

func init() {
	initEngineFlags(shellCmd.Flags())

	egdbCmd.AddCommand(shellCmd)
}

func shellRun(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.WithError(err).Error("close engine")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := repl.New(e, app, os.Stdout)
	r.SetConfig(configRows)
	return r.Interact(ctx)
}
