package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/manash/maskopt/internal/command"
	"github.com/manash/maskopt/internal/metrics"
	"github.com/manash/maskopt/internal/transport"
	"github.com/manash/maskopt/pkg/models"
)

var ErrInvalidPauseCommand = errors.New("pause command must be stop-generation or pause-generation")

// Canvas is the persistent canvas the controller reads from and commits to.
type Canvas interface {
	Current(ctx context.Context) (string, error)
	Commit(ctx context.Context, img models.Image) error
}

// Encoder turns a result image back into its base64 wire form.
type Encoder interface {
	Encode(img models.Image) string
}

type Config struct {
	State     *State
	Inputs    command.Source
	Canvas    Canvas
	Encoder   Encoder
	Transport transport.Transport
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	// PauseCommand is sent by Pause. The server has no distinct pause
	// primitive by default, so it falls back to stop-generation.
	PauseCommand string
}

// Controller exposes the session lifecycle operations. Every operation is
// build, validate, send, then update the local phase; nothing waits for the
// server, and a failed validation or send leaves the phase unchanged.
type Controller struct {
	state        *State
	builder      *command.Builder
	canvas       Canvas
	encoder      Encoder
	transport    transport.Transport
	pauseCommand string
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

func NewController(cfg *Config) (*Controller, error) {
	pause := cfg.PauseCommand
	switch pause {
	case "":
		pause = models.CommandStop
	case models.CommandStop, models.CommandPause:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPauseCommand, pause)
	}

	state := cfg.State
	if state == nil {
		state = NewState()
	}

	return &Controller{
		state:        state,
		builder:      command.NewBuilder(cfg.Inputs, cfg.Canvas),
		canvas:       cfg.Canvas,
		encoder:      cfg.Encoder,
		transport:    cfg.Transport,
		pauseCommand: pause,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}, nil
}

func (c *Controller) State() *State {
	return c.state
}

// Start begins a new session over the persistent canvas. It does not check
// the current phase: calling it twice sends two start commands.
func (c *Controller) Start(ctx context.Context) error {
	req, err := c.builder.Build(ctx)
	if err != nil {
		c.metrics.ObserveRejected(models.CommandStart, "canvas")
		return err
	}
	if err := c.sendRequest(models.CommandStart, req); err != nil {
		return err
	}
	c.state.SetLastOutcome(models.OutcomeNone)
	c.setPhase(models.PhaseOptimizing)
	return nil
}

// Pause stops the server-side run while keeping the latest result.
func (c *Controller) Pause() error {
	if err := c.send(c.pauseCommand, struct{}{}); err != nil {
		return err
	}
	c.setPhase(models.PhasePausedOptimizing)
	return nil
}

// Resume continues optimizing from the latest result instead of the canvas.
func (c *Controller) Resume() error {
	return c.continueFromResult(models.CommandResume)
}

// Upscale restarts optimization over the latest result at higher resolution.
func (c *Controller) Upscale() error {
	return c.continueFromResult(models.CommandUpscale)
}

// Discard stops the server and drops the latest result.
func (c *Controller) Discard() error {
	if err := c.send(models.CommandStop, struct{}{}); err != nil {
		return err
	}
	c.state.ClearResult()
	c.state.SetLastOutcome(models.OutcomeDiscarded)
	c.setPhase(models.PhaseIdle)
	return nil
}

// Accept stops the server and commits the latest result to the canvas.
// If the commit fails the server has already been stopped, so the session
// is left paused with its result intact and Accept may be retried.
func (c *Controller) Accept(ctx context.Context) error {
	result := c.state.Result()
	if result == nil {
		c.metrics.ObserveRejected("accept", "no_result")
		return fmt.Errorf("cannot accept: %w", models.ErrNoResult)
	}
	if err := c.send(models.CommandStop, struct{}{}); err != nil {
		return err
	}
	if err := c.canvas.Commit(ctx, result.Image); err != nil {
		c.setPhase(models.PhasePausedOptimizing)
		return fmt.Errorf("failed to commit result: %w", err)
	}
	c.state.ClearResult()
	c.state.SetLastOutcome(models.OutcomeAccepted)
	c.setPhase(models.PhaseIdle)
	return nil
}

func (c *Controller) continueFromResult(cmd string) error {
	result := c.state.Result()
	if result == nil {
		c.metrics.ObserveRejected(cmd, "no_result")
		return fmt.Errorf("cannot %s: %w", cmd, models.ErrNoResult)
	}
	req := c.builder.BuildWithBackground(c.encoder.Encode(result.Image))
	if err := c.sendRequest(cmd, req); err != nil {
		return err
	}
	c.setPhase(models.PhaseOptimizing)
	return nil
}

func (c *Controller) sendRequest(cmd string, req *models.GenerationRequest) error {
	if err := req.Validate(); err != nil {
		c.metrics.ObserveRejected(cmd, "validation")
		c.log.Warn().Str("command", cmd).Err(err).Msg("request rejected")
		return err
	}
	return c.send(cmd, req)
}

func (c *Controller) send(cmd string, payload any) error {
	if err := c.transport.Send(cmd, payload); err != nil {
		c.metrics.ObserveRejected(cmd, "send")
		c.log.Error().Str("command", cmd).Err(err).Msg("send failed")
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	c.metrics.ObserveCommand(cmd)
	c.log.Debug().Str("command", cmd).Msg("command sent")
	return nil
}

func (c *Controller) setPhase(p models.Phase) {
	from := c.state.Phase()
	c.state.SetPhase(p)
	c.metrics.ObserveTransition(from.String(), p.String())
	if from != p {
		c.log.Info().Str("from", from.String()).Str("to", p.String()).Msg("phase changed")
	}
}
