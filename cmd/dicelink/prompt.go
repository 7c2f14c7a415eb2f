package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/dicelink/pkg/dice"
)

// promptNotify presents a question from the die on the terminal and sends the
// answer back. Keys: y/enter for ok, n/esc for cancel. Falls back to ok after
// the die's timeout window passes without a keypress.
func promptNotify(out io.Writer, req dice.NotifyRequest) {
	fmt.Fprintf(out, "\n%s %s ", color.YellowString("[die]"), req.Text)
	switch {
	case req.Ok && req.Cancel:
		fmt.Fprint(out, "(y/n) ")
	case req.Ok:
		fmt.Fprint(out, "(press any key) ")
	}

	answer := readAnswer(req.Timeout)
	fmt.Fprintln(out)

	if !req.Cancel {
		answer = dice.AnswerOk
	}
	if err := req.Respond(answer); err != nil {
		fmt.Fprintf(out, "%s\n", FormatUserError(err))
	}
}

// readAnswer waits for one keypress, in raw mode when stdin is a terminal.
func readAnswer(timeout time.Duration) dice.OkCancel {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, old)
		}
	}

	keys := make(chan byte, 1)
	go func() {
		var buf [1]byte
		if _, err := os.Stdin.Read(buf[:]); err == nil {
			keys <- buf[0]
		}
	}()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case k := <-keys:
		switch k {
		case 'n', 'N', 0x1b: // esc
			return dice.AnswerCancel
		default:
			return dice.AnswerOk
		}
	case <-time.After(timeout):
		return dice.AnswerOk
	}
}
