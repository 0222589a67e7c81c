package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/maskopt/internal/display"
	"github.com/manash/maskopt/internal/render"
	"github.com/manash/maskopt/internal/session"
)

type REPL struct {
	in         io.Reader
	out        io.Writer
	err        io.Writer
	controller *session.Controller
	inputs     *session.Inputs
	loop       *session.Loop
	codec      *render.Codec
	saver      *render.Saver
	displayer  *display.Displayer
	commands   map[string]Command
	ordered    []Command
	running    bool
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Controller *session.Controller
	Inputs     *session.Inputs
	Loop       *session.Loop
	Codec      *render.Codec
	Saver      *render.Saver

	// Displayer is nil when the terminal cannot show images inline.
	Displayer *display.Displayer
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:         cfg.In,
		out:        cfg.Out,
		err:        cfg.Err,
		controller: cfg.Controller,
		inputs:     cfg.Inputs,
		loop:       cfg.Loop,
		codec:      cfg.Codec,
		saver:      cfg.Saver,
		displayer:  cfg.Displayer,
		commands:   make(map[string]Command),
	}
	r.registerCommands()
	return r
}

// Run reads commands until quit, end of input, or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running && ctx.Err() == nil {
		r.printPrompt(ctx)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

// do runs fn on the session loop so it never interleaves with inbound
// message handling.
func (r *REPL) do(ctx context.Context, fn func() error) error {
	return r.loop.Do(ctx, fn)
}

func (r *REPL) snapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := r.do(ctx, func() error {
		snap = r.controller.State().Snapshot()
		return nil
	})
	return snap, err
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "maskopt interactive mode")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt(ctx context.Context) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		fmt.Fprint(r.out, "maskopt> ")
		return
	}
	fmt.Fprintf(r.out, "maskopt [%s]> ", promptLabel(snap))
}

func promptLabel(snap session.Snapshot) string {
	label := snap.Phase.String()
	if snap.Result != nil {
		label += fmt.Sprintf(" %d/%d", snap.Result.Step, snap.Result.NumIterations)
	}
	switch snap.NumUsers {
	case 0:
	case 1:
		label += ", 1 user"
	default:
		label += fmt.Sprintf(", %d users", snap.NumUsers)
	}
	return label
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
