package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/egdb/repl"
)

var (
	execCmd = &cobra.Command{
		Use:   "exec [file...]",
		Short: "Execute console commands from files or --command",
		RunE:  execRun,
	}

	cmdArgs = []string{}
	echo    = false
)

func init() {
	fs := execCmd.Flags()
	initEngineFlags(fs)

	fs.StringArrayVarP(&cmdArgs, "command", "c", cmdArgs,
		"console `command` to execute; multiple allowed")
	fs.BoolVar(&echo, "echo", echo, "echo each command before executing it")

	egdbCmd.AddCommand(execCmd)
}

func execRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(cmdArgs) == 0 {
		return fmt.Errorf("egdb: exec: expected files or --command")
	}

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.WithError(err).Error("close engine")
		}
	}()

	ctx := context.Background()
	r := repl.New(e, app, os.Stdout)
	r.SetConfig(configRows)

	var echoWriter io.Writer
	if echo {
		echoWriter = os.Stdout
	}
	if len(cmdArgs) > 0 {
		err = r.Run(ctx,
			repl.NewScriptReader(strings.NewReader(strings.Join(cmdArgs, "\n")), echoWriter))
		if err != nil {
			return fmt.Errorf("egdb: exec: %s", err)
		}
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("egdb: exec: %s", err)
		}
		err = r.Run(ctx, repl.NewScriptReader(f, echoWriter))
		f.Close()
		if err != nil {
			return fmt.Errorf("egdb: exec: %s: %s", arg, err)
		}
	}
	return nil
}
