package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

const (
	egdbHistory = ".egdb_history"
)

type consoleReader struct {
	line   *liner.State
	prompt string
}

func (cr *consoleReader) ReadLine() (string, error) {
	s, err := cr.line.Prompt(cr.prompt)
	if err == liner.ErrPromptAborted {
		return "", nil
	} else if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) != "" {
		cr.line.AppendHistory(s)
	}
	return s, nil
}

// Interact runs an interactive console on the terminal, keeping command
// history in .egdb_history in the current directory.
func (r *Repl) Interact(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(egdbHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	err := r.Run(ctx, &consoleReader{line: line, prompt: r.caller.App + ": "})

	if f, err := os.Create(egdbHistory); err != nil {
		fmt.Fprintf(os.Stderr, "egdb: error writing history file, %s: %s\n", egdbHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return err
}

type scriptReader struct {
	scanner *bufio.Scanner
	echo    io.Writer
}

func (sr *scriptReader) ReadLine() (string, error) {
	if !sr.scanner.Scan() {
		if err := sr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	s := sr.scanner.Text()
	if sr.echo != nil && strings.TrimSpace(s) != "" {
		fmt.Fprintf(sr.echo, "> %s\n", s)
	}
	return s, nil
}

// NewScriptReader returns a LineReader over the lines of rd; each non-blank
// line is written to echo, if it is not nil, before it is returned.
func NewScriptReader(rd io.Reader, echo io.Writer) LineReader {
	return &scriptReader{
		scanner: bufio.NewScanner(rd),
		echo:    echo,
	}
}
