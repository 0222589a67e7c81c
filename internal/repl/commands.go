package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/maskopt/internal/command"
	"github.com/manash/maskopt/internal/render"
	"github.com/manash/maskopt/internal/security"
	"github.com/manash/maskopt/pkg/models"
)

var ErrNoDisplay = errors.New("terminal does not support inline images")

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func (r *REPL) registerCommands() {
	r.ordered = []Command{
		&StartCommand{},
		&PauseCommand{},
		&ResumeCommand{},
		&UpscaleCommand{},
		&DiscardCommand{},
		&AcceptCommand{},
		&PromptCommand{},
		&StyleCommand{},
		&LearningRateCommand{},
		&StepsCommand{},
		&ModelCommand{},
		&MaskCommand{},
		&StatusCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range r.ordered {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// StartCommand begins a session over the canvas
type StartCommand struct{}

func (c *StartCommand) Name() string        { return "start" }
func (c *StartCommand) Aliases() []string   { return []string{"begin"} }
func (c *StartCommand) Description() string { return "Start optimizing the canvas with the current inputs" }
func (c *StartCommand) Usage() string       { return "start" }

func (c *StartCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, func() error { return r.controller.Start(ctx) }); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Optimization started")
	return nil
}

// PauseCommand pauses the running session
type PauseCommand struct{}

func (c *PauseCommand) Name() string        { return "pause" }
func (c *PauseCommand) Aliases() []string   { return []string{"p"} }
func (c *PauseCommand) Description() string { return "Pause optimization, keeping the latest result" }
func (c *PauseCommand) Usage() string       { return "pause" }

func (c *PauseCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, r.controller.Pause); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Paused")
	return nil
}

// ResumeCommand continues from the latest result
type ResumeCommand struct{}

func (c *ResumeCommand) Name() string        { return "resume" }
func (c *ResumeCommand) Aliases() []string   { return []string{"r"} }
func (c *ResumeCommand) Description() string { return "Continue optimizing from the latest result" }
func (c *ResumeCommand) Usage() string       { return "resume" }

func (c *ResumeCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, r.controller.Resume); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Resumed")
	return nil
}

type UpscaleCommand struct{}

func (c *UpscaleCommand) Name() string        { return "upscale" }
func (c *UpscaleCommand) Aliases() []string   { return []string{"up"} }
func (c *UpscaleCommand) Description() string { return "Optimize the latest result at a higher resolution" }
func (c *UpscaleCommand) Usage() string       { return "upscale" }

func (c *UpscaleCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, r.controller.Upscale); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Upscaling")
	return nil
}

// DiscardCommand drops the latest result
type DiscardCommand struct{}

func (c *DiscardCommand) Name() string        { return "discard" }
func (c *DiscardCommand) Aliases() []string   { return []string{"d"} }
func (c *DiscardCommand) Description() string { return "Stop and drop the latest result" }
func (c *DiscardCommand) Usage() string       { return "discard" }

func (c *DiscardCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, r.controller.Discard); err != nil {
		return err
	}
	if r.displayer != nil {
		if err := r.displayer.Clear(); err != nil {
			fmt.Fprintf(r.err, "Warning: failed to clear preview: %v\n", err)
		}
	}
	fmt.Fprintln(r.out, "Discarded")
	return nil
}

// AcceptCommand commits the latest result to the canvas
type AcceptCommand struct{}

func (c *AcceptCommand) Name() string        { return "accept" }
func (c *AcceptCommand) Aliases() []string   { return []string{"a"} }
func (c *AcceptCommand) Description() string { return "Stop and commit the latest result to the canvas" }
func (c *AcceptCommand) Usage() string       { return "accept" }

func (c *AcceptCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.do(ctx, func() error { return r.controller.Accept(ctx) }); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Accepted: result committed to canvas")
	return nil
}

// PromptCommand shows or sets the prompt
type PromptCommand struct{}

func (c *PromptCommand) Name() string        { return "prompt" }
func (c *PromptCommand) Aliases() []string   { return []string{"pr"} }
func (c *PromptCommand) Description() string { return "Show or set the prompt" }
func (c *PromptCommand) Usage() string       { return "prompt [text]" }

func (c *PromptCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	prompt := strings.Join(args, " ")
	return r.do(ctx, func() error {
		if prompt == "" {
			fmt.Fprintf(r.out, "Prompt: %q\n", r.inputs.Prompt())
			return nil
		}
		r.inputs.SetPrompt(prompt)
		fmt.Fprintf(r.out, "Prompt set to: %q\n", prompt)
		return nil
	})
}

type StyleCommand struct{}

func (c *StyleCommand) Name() string        { return "style" }
func (c *StyleCommand) Aliases() []string   { return nil }
func (c *StyleCommand) Description() string { return "Set the style prompt (empty clears it)" }
func (c *StyleCommand) Usage() string       { return "style [text]" }

func (c *StyleCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	style := strings.Join(args, " ")
	return r.do(ctx, func() error {
		r.inputs.SetStylePrompt(style)
		if style == "" {
			fmt.Fprintln(r.out, "Style prompt cleared")
		} else {
			fmt.Fprintf(r.out, "Style prompt set to: %q\n", style)
		}
		return nil
	})
}

// LearningRateCommand shows or sets the learning rate in UI units
type LearningRateCommand struct{}

func (c *LearningRateCommand) Name() string        { return "lr" }
func (c *LearningRateCommand) Aliases() []string   { return []string{"rate"} }
func (c *LearningRateCommand) Description() string { return "Show or set the learning rate" }
func (c *LearningRateCommand) Usage() string       { return "lr [value]" }

func (c *LearningRateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return r.do(ctx, func() error {
			lr := r.inputs.LearningRate()
			fmt.Fprintf(r.out, "Learning rate: %g (sent as %g)\n", lr, lr/command.LearningRateScale)
			return nil
		})
	}

	lr, err := strconv.ParseFloat(args[0], 64)
	if err != nil || lr <= 0 {
		return fmt.Errorf("learning rate must be a positive number, got %q", args[0])
	}
	return r.do(ctx, func() error {
		r.inputs.SetLearningRate(lr)
		fmt.Fprintf(r.out, "Learning rate set to: %g\n", lr)
		return nil
	})
}

// StepsCommand shows or sets the number of reconstruction steps
type StepsCommand struct{}

func (c *StepsCommand) Name() string        { return "steps" }
func (c *StepsCommand) Aliases() []string   { return nil }
func (c *StepsCommand) Description() string { return "Show or set the step count (default uses the server's)" }
func (c *StepsCommand) Usage() string       { return "steps [n|default]" }

func (c *StepsCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return r.do(ctx, func() error {
			fmt.Fprintf(r.out, "Steps: %s\n", formatSteps(r.inputs.NumRecSteps()))
			return nil
		})
	}

	n := 0
	if !strings.EqualFold(args[0], "default") {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("steps must be a positive integer or 'default', got %q", args[0])
		}
		n = v
	}
	return r.do(ctx, func() error {
		r.inputs.SetNumRecSteps(n)
		fmt.Fprintf(r.out, "Steps set to: %s\n", formatSteps(r.inputs.NumRecSteps()))
		return nil
	})
}

// ModelCommand shows or sets the model type
type ModelCommand struct{}

func (c *ModelCommand) Name() string        { return "model" }
func (c *ModelCommand) Aliases() []string   { return []string{"m"} }
func (c *ModelCommand) Description() string { return "Show or set the model type" }
func (c *ModelCommand) Usage() string       { return "model [name]" }

func (c *ModelCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	return r.do(ctx, func() error {
		if len(args) == 0 {
			fmt.Fprintf(r.out, "Model: %s\n", r.inputs.ModelType())
			return nil
		}
		r.inputs.SetModelType(args[0])
		fmt.Fprintf(r.out, "Model set to: %s\n", args[0])
		return nil
	})
}

// MaskCommand loads the mask from an image file
type MaskCommand struct{}

func (c *MaskCommand) Name() string        { return "mask" }
func (c *MaskCommand) Aliases() []string   { return nil }
func (c *MaskCommand) Description() string { return "Load a mask image from a file (clear removes it)" }
func (c *MaskCommand) Usage() string       { return "mask <file|clear>" }

func (c *MaskCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	if strings.EqualFold(args[0], "clear") {
		return r.do(ctx, func() error {
			r.inputs.SetMaskBase64("")
			fmt.Fprintln(r.out, "Mask cleared")
			return nil
		})
	}

	path := args[0]
	if err := security.ValidateImagePath(path); err != nil {
		return fmt.Errorf("invalid mask file: %w", err)
	}
	img, err := r.codec.LoadFile(path)
	if err != nil {
		return err
	}

	encoded := r.codec.Encode(img)
	if err := r.do(ctx, func() error {
		r.inputs.SetMaskBase64(encoded)
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Mask loaded: %s (%dx%d %s)\n", path, img.Width, img.Height, img.Format)
	return nil
}

// StatusCommand prints the session phase, result and inputs
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st"} }
func (c *StatusCommand) Description() string { return "Show the session phase, result and inputs" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	return r.do(ctx, func() error {
		snap := r.controller.State().Snapshot()

		fmt.Fprintf(r.out, "Phase:         %s\n", snap.Phase)
		fmt.Fprintf(r.out, "Users:         %d\n", snap.NumUsers)
		if snap.LastOutcome.IsTerminal() {
			fmt.Fprintf(r.out, "Last session:  %s\n", snap.LastOutcome)
		}
		if res := snap.Result; res != nil {
			fmt.Fprintf(r.out, "Result:        step %d/%d, %dx%d %s, %s\n",
				res.Step, res.NumIterations,
				res.Image.Width, res.Image.Height, res.Image.Format,
				humanize.Bytes(uint64(len(res.Image.Data))))
		} else {
			fmt.Fprintln(r.out, "Result:        none")
		}

		in := r.inputs
		fmt.Fprintf(r.out, "Prompt:        %q\n", in.Prompt())
		fmt.Fprintf(r.out, "Style:         %q\n", in.StylePrompt())
		fmt.Fprintf(r.out, "Learning rate: %g\n", in.LearningRate())
		fmt.Fprintf(r.out, "Steps:         %s\n", formatSteps(in.NumRecSteps()))
		fmt.Fprintf(r.out, "Model:         %s\n", in.ModelType())
		if mask := in.MaskBase64(); mask != "" {
			fmt.Fprintf(r.out, "Mask:          %s encoded\n", humanize.Bytes(uint64(len(mask))))
		} else {
			fmt.Fprintln(r.out, "Mask:          not set")
		}
		return nil
	})
}

// ShowCommand displays the latest result inline
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"view"} }
func (c *ShowCommand) Description() string { return "Display the latest result" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.displayer == nil {
		return ErrNoDisplay
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Result == nil {
		return fmt.Errorf("nothing to show: %w", models.ErrNoResult)
	}
	return r.displayer.ShowResult(snap.Result)
}

// SaveCommand writes the latest result to a file
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save the latest result to a file" }
func (c *SaveCommand) Usage() string       { return "save [filename]" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Result == nil {
		return fmt.Errorf("nothing to save: %w", models.ErrNoResult)
	}

	var destPath string
	if len(args) > 0 {
		destPath = args[0]
		if err := security.ValidateSavePath(destPath); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	} else {
		destPath = render.GenerateFilename(snap.Result)
	}

	if err := r.saver.Save(snap.Result.Image, destPath); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	fmt.Fprintf(r.out, "Saved: %s (%s)\n", destPath, humanize.Bytes(uint64(len(snap.Result.Image.Data))))
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?", "h"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range r.ordered {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-16s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                  Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func formatSteps(n *int) string {
	if n == nil {
		return "server default"
	}
	return strconv.Itoa(*n)
}
