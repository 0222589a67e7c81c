package protocol

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/manash/maskopt/internal/metrics"
	"github.com/manash/maskopt/internal/session"
	"github.com/manash/maskopt/pkg/models"
)

// Decoder turns a base64 image payload into an image handle.
type Decoder interface {
	Decode(payload string) (models.Image, error)
}

// Handler is the sole consumer of inbound messages.
type Handler struct {
	state    *session.State
	decoder  Decoder
	log      zerolog.Logger
	metrics  *metrics.Metrics
	onResult func(*models.OptimizationResult)
}

type Config struct {
	State   *session.State
	Decoder Decoder
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// OnResult, if set, is called after a new result is stored.
	OnResult func(*models.OptimizationResult)
}

func NewHandler(cfg *Config) *Handler {
	return &Handler{
		state:    cfg.State,
		decoder:  cfg.Decoder,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		onResult: cfg.OnResult,
	}
}

// Handle applies one raw message. Malformed messages and undecodable images
// are logged and returned as errors; the handler stays usable afterwards.
func (h *Handler) Handle(raw []byte) error {
	msg, err := models.ParseMessage(raw)
	if err != nil {
		h.metrics.ObserveInbound(metrics.OutcomeMalformed)
		h.log.Error().Err(err).Int("bytes", len(raw)).Msg("malformed server message")
		return err
	}

	phase := h.state.Phase()
	d := Decide(phase, msg)

	if d.NumUsers != nil {
		h.state.SetNumUsers(*d.NumUsers)
		h.metrics.SetConnectedUsers(*d.NumUsers)
	}

	if d.Err != nil {
		h.metrics.ObserveInbound(d.Outcome)
		h.log.Error().Err(d.Err).Str("phase", phase.String()).Msg("malformed server message")
		return d.Err
	}

	if d.Store {
		img, err := h.decoder.Decode(msg.Image)
		if err != nil {
			h.metrics.ObserveInbound(metrics.OutcomeDecodeFailed)
			h.log.Error().Err(err).Int("step", *msg.Step).Msg("failed to decode result image")
			return fmt.Errorf("failed to decode result image: %w", err)
		}
		result := &models.OptimizationResult{
			Image:         img,
			Step:          *msg.Step,
			NumIterations: *msg.NumIterations,
		}
		h.state.SetResult(result)
		if d.Complete {
			h.state.SetPhase(models.PhasePausedOptimizing)
			h.metrics.ObserveTransition(phase.String(), models.PhasePausedOptimizing.String())
			h.log.Info().Int("iterations", result.NumIterations).Msg("optimization complete")
		}
		if h.onResult != nil {
			h.onResult(result)
		}
	}

	h.metrics.ObserveInbound(d.Outcome)
	ev := h.log.Debug().Str("phase", phase.String()).Str("outcome", d.Outcome)
	if msg.Step != nil {
		ev = ev.Int("step", *msg.Step)
	}
	if msg.NumIterations != nil {
		ev = ev.Int("num_iterations", *msg.NumIterations)
	}
	ev.Msg("server message")
	return nil
}
