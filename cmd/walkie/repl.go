package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/dkeye/Walkie/internal/app/orch"
)

const help = `digits tune the frequency, < backspace, c clear
t press to talk, o release (over), n new frequency, s status, q quit`

// controls is the radio surface driven from the terminal.
type controls interface {
	Digit(d rune)
	Backspace()
	Clear()
	Frequency() string
	PressTalk() error
	ReleaseTalk() error
	NewFrequency() error
	Status() (orch.Status, error)
}

// runCommands reads commands from in until q, EOF or ctx cancellation.
func runCommands(ctx context.Context, in io.Reader, out io.Writer, r controls) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(out, help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := execLine(line, out, r); quit {
				return nil
			}
		}
	}
}

func execLine(line string, out io.Writer, r controls) (quit bool) {
	for _, c := range strings.TrimSpace(line) {
		switch {
		case unicode.IsDigit(c):
			r.Digit(c)
			fmt.Fprintf(out, "frequency: %s\n", r.Frequency())
		case c == '<':
			r.Backspace()
			fmt.Fprintf(out, "frequency: %s\n", r.Frequency())
		case c == 'c':
			r.Clear()
			fmt.Fprintln(out, "frequency cleared")
		case c == 't':
			report(out, "talk", r.PressTalk())
		case c == 'o':
			report(out, "over", r.ReleaseTalk())
		case c == 'n':
			report(out, "new frequency", r.NewFrequency())
		case c == 's':
			printStatus(out, r)
		case c == 'q':
			return true
		case unicode.IsSpace(c):
		default:
			fmt.Fprintln(out, help)
		}
	}
	return false
}

func report(out io.Writer, what string, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", what, err)
		return
	}
	fmt.Fprintln(out, what)
}

func printStatus(out io.Writer, r controls) {
	st, err := r.Status()
	if err != nil {
		fmt.Fprintf(out, "status: %v\n", err)
		return
	}
	fmt.Fprintf(out, "state=%s room=%s self=%s talk=%s visible=%d capturing=%t pending=%d\n",
		st.State, st.Room, st.Self, st.Talk, st.VisiblePeers, st.Capturing, st.Pending)
	for _, l := range st.Links {
		fmt.Fprintf(out, "  %s %s sending=%t\n", l.Peer, l.Direction, l.Sending)
	}
}
