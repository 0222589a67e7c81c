// Package command assembles generation request payloads from the current
// application inputs.
package command

import (
	"context"
	"fmt"

	"github.com/manash/maskopt/pkg/models"
)

// LearningRateScale converts UI learning-rate units to protocol units.
const LearningRateScale = 1000.0

// Source exposes the user-editable inputs of a session.
type Source interface {
	Prompt() string
	StylePrompt() string
	MaskBase64() string
	LearningRate() float64
	NumRecSteps() *int
	ModelType() string
}

// Canvas exposes the encoded base canvas.
type Canvas interface {
	Current(ctx context.Context) (string, error)
}

type Builder struct {
	source Source
	canvas Canvas
}

func NewBuilder(source Source, canvas Canvas) *Builder {
	return &Builder{source: source, canvas: canvas}
}

// Build assembles a request whose background is the persistent canvas.
func (b *Builder) Build(ctx context.Context) (*models.GenerationRequest, error) {
	background, err := b.canvas.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read canvas: %w", err)
	}
	return b.BuildWithBackground(background), nil
}

// BuildWithBackground assembles a request over an explicit background,
// typically the latest optimization result.
func (b *Builder) BuildWithBackground(background string) *models.GenerationRequest {
	var steps *int
	if n := b.source.NumRecSteps(); n != nil {
		v := *n
		steps = &v
	}
	return &models.GenerationRequest{
		Prompt:        b.source.Prompt(),
		StylePrompt:   b.source.StylePrompt(),
		ImageBase64:   b.source.MaskBase64(),
		LearningRate:  b.source.LearningRate() / LearningRateScale,
		BackgroundImg: background,
		NumRecSteps:   steps,
		ModelType:     b.source.ModelType(),
	}
}
