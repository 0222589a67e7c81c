// Package render converts between base64 image payloads, image files and
// decoded image handles.
package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manash/maskopt/pkg/models"
)

var (
	ErrEmptyPayload     = errors.New("empty image payload")
	ErrInvalidBase64    = errors.New("image payload is not valid base64")
	ErrUnsupportedImage = errors.New("unsupported image data")
)

// Codec decodes server image payloads and encodes handles for re-submission.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Decode turns a base64 payload (optionally a data URL) into an image handle.
func (c *Codec) Decode(payload string) (models.Image, error) {
	payload = stripDataURL(strings.TrimSpace(payload))
	if payload == "" {
		return models.Image{}, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return models.Image{}, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
		}
	}
	return c.FromBytes(data)
}

// FromBytes inspects raw image bytes and returns a handle for them.
func (c *Codec) FromBytes(data []byte) (models.Image, error) {
	if len(data) == 0 {
		return models.Image{}, ErrEmptyPayload
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return models.Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Encode returns the base64 form of an image handle.
func (c *Codec) Encode(img models.Image) string {
	if img.IsEmpty() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(img.Data)
}

// LoadFile reads and inspects an image file.
func (c *Codec) LoadFile(path string) (models.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return c.FromBytes(data)
}

func stripDataURL(payload string) string {
	if !strings.HasPrefix(payload, "data:") {
		return payload
	}
	if _, rest, ok := strings.Cut(payload, ";base64,"); ok {
		return rest
	}
	return payload
}

// Saver writes image handles to disk.
type Saver struct{}

func NewSaver() *Saver {
	return &Saver{}
}

func (s *Saver) Save(img models.Image, path string) error {
	if img.IsEmpty() {
		return fmt.Errorf("no image data available")
	}

	if err := s.ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (s *Saver) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func GenerateFilename(result *models.OptimizationResult) string {
	return GenerateFilenameWithTime(result, time.Now())
}

func GenerateFilenameWithTime(result *models.OptimizationResult, t time.Time) string {
	timestamp := t.Format("20060102-150405")
	ext := result.Image.Format
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("result-%s-step%d-of-%d.%s", timestamp, result.Step, result.NumIterations, ext)
}
