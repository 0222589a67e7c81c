// Package canvas persists the base canvas that generation sessions paint over.
package canvas

import (
	"context"
	"errors"
	"fmt"

	"github.com/manash/maskopt/pkg/models"
)

const DefaultName = "main"

// Encoder turns an image handle into its base64 wire form.
type Encoder interface {
	Encode(img models.Image) string
}

// Canvas is one named canvas backed by a Store.
type Canvas struct {
	store   *Store
	name    string
	encoder Encoder
}

func New(store *Store, name string, encoder Encoder) *Canvas {
	if name == "" {
		name = DefaultName
	}
	return &Canvas{store: store, name: name, encoder: encoder}
}

func (c *Canvas) Name() string {
	return c.name
}

// Current returns the canvas contents base64-encoded, or "" when the canvas
// has never been written.
func (c *Canvas) Current(ctx context.Context) (string, error) {
	img, err := c.Image(ctx)
	if err != nil {
		return "", err
	}
	return c.encoder.Encode(img), nil
}

// Image returns the decoded canvas, or an empty image when none is stored.
func (c *Canvas) Image(ctx context.Context) (models.Image, error) {
	rec, err := c.store.Get(ctx, c.name)
	if errors.Is(err, ErrCanvasNotFound) {
		return models.Image{}, nil
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to read canvas %s: %w", c.name, err)
	}
	return rec.Image, nil
}

// Commit replaces the canvas contents.
func (c *Canvas) Commit(ctx context.Context, img models.Image) error {
	if img.IsEmpty() {
		return fmt.Errorf("cannot commit empty image to canvas %s", c.name)
	}
	if _, err := c.store.Put(ctx, c.name, img); err != nil {
		return fmt.Errorf("failed to commit canvas %s: %w", c.name, err)
	}
	return nil
}
