// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/luxfi/votemesh/log"
	"go.uber.org/zap"
)

// REPL reads one command per line from in and writes responses to
// out, until in is closed or the quit command is issued.
type REPL struct {
	in  *bufio.Scanner
	out io.Writer
	d   Dispatcher
	log log.Logger
}

// NewREPL constructs a REPL reading from in and writing to out.
func NewREPL(in io.Reader, out io.Writer, d Dispatcher, logger log.Logger) *REPL {
	return &REPL{in: bufio.NewScanner(in), out: out, d: d, log: logger}
}

// Run processes lines until EOF or "quit"/"exit".
func (r *REPL) Run() {
	fmt.Fprintln(r.out, "votemesh> type 'help' for commands")
	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		cmd, err := ParseLine(line)
		if err != nil {
			fmt.Fprintf(r.out, "%v\n", err)
			continue
		}
		r.log.Debug("cli command", zap.String("line", line))
		fmt.Fprintln(r.out, Execute(cmd, r.d))
		if cmd.Kind == Quit {
			return
		}
	}
}
