package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dkeye/Walkie/internal/app/orch"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControls struct {
	digits  []rune
	calls   []string
	talkErr error
}

func (f *fakeControls) Digit(d rune)      { f.digits = append(f.digits, d) }
func (f *fakeControls) Backspace()        { f.calls = append(f.calls, "backspace") }
func (f *fakeControls) Clear()            { f.calls = append(f.calls, "clear") }
func (f *fakeControls) Frequency() string { return string(f.digits) }

func (f *fakeControls) PressTalk() error {
	f.calls = append(f.calls, "talk")
	return f.talkErr
}

func (f *fakeControls) ReleaseTalk() error {
	f.calls = append(f.calls, "over")
	return nil
}

func (f *fakeControls) NewFrequency() error {
	f.calls = append(f.calls, "new")
	return nil
}

func (f *fakeControls) Status() (orch.Status, error) {
	f.calls = append(f.calls, "status")
	return orch.Status{
		State: domain.StateActive,
		Room:  "1234",
		Links: []orch.LinkInfo{{Peer: "bob", Direction: domain.Outbound, Sending: true}},
	}, nil
}

func TestCommandsDriveRadio(t *testing.T) {
	f := &fakeControls{}
	var out bytes.Buffer
	in := strings.NewReader("12 34\nt\no\n<\ns\nn c\nq\nt\n")

	require.NoError(t, runCommands(context.Background(), in, &out, f))

	assert.Equal(t, "1234", string(f.digits))
	assert.Equal(t, []string{"talk", "over", "backspace", "status", "new", "clear"}, f.calls)
	assert.Contains(t, out.String(), "frequency: 1234")
	assert.Contains(t, out.String(), "bob")
}

func TestCommandErrorsAreReported(t *testing.T) {
	f := &fakeControls{talkErr: orch.ErrClosed}
	var out bytes.Buffer
	execLine("t", &out, f)
	assert.Contains(t, out.String(), "talk: "+orch.ErrClosed.Error())
}

func TestEOFEndsCommands(t *testing.T) {
	f := &fakeControls{}
	var out bytes.Buffer
	require.NoError(t, runCommands(context.Background(), strings.NewReader("1"), &out, f))
	assert.Equal(t, "1", string(f.digits))
}

func TestUnknownCommandPrintsHelp(t *testing.T) {
	f := &fakeControls{}
	var out bytes.Buffer
	quit := execLine("x", &out, f)
	assert.False(t, quit)
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}
