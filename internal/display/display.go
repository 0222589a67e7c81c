package display

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/manash/maskopt/pkg/models"
)

// previewID is the kitty image id reused for every preview so a new frame
// replaces the previous one instead of stacking.
const previewID = 1

var ErrNothingToShow = errors.New("no image to display")

type Displayer struct {
	out io.Writer
	enc *KittyEncoder
}

func New(out io.Writer) *Displayer {
	return &Displayer{
		out: out,
		enc: NewKittyEncoder(out),
	}
}

// FitWidth limits previews to cols terminal cells; zero keeps native size.
func (d *Displayer) FitWidth(cols int) {
	if cols < 0 {
		cols = 0
	}
	d.enc.columns = cols
}

// ShowResult draws the result image followed by a progress caption.
func (d *Displayer) ShowResult(result *models.OptimizationResult) error {
	if result == nil {
		return ErrNothingToShow
	}
	if err := d.Show(result.Image); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "step %d/%d (%.0f%%)\n", result.Step, result.NumIterations, result.Progress()*100)
	return nil
}

func (d *Displayer) Show(img models.Image) error {
	if img.IsEmpty() {
		return ErrNothingToShow
	}

	data, err := asPNG(img)
	if err != nil {
		return err
	}

	if err := d.enc.Encode(data, previewID); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

// Clear removes the current preview from the screen.
func (d *Displayer) Clear() error {
	return d.enc.Delete(previewID)
}

// asPNG returns PNG bytes, re-encoding other formats since kitty's f=100
// transfer only accepts PNG.
func asPNG(img models.Image) ([]byte, error) {
	if img.Format == "png" {
		return img.Data, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", img.Format, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("failed to convert to png: %w", err)
	}
	return buf.Bytes(), nil
}

// IsTerminalSupported reports whether out is a terminal that speaks the
// kitty graphics protocol.
func IsTerminalSupported(out io.Writer, getenv func(string) string) bool {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return false
	}
	return supportsGraphics(getenv)
}

// PreviewColumns returns half the width of the terminal behind out, or 0
// when it cannot be measured.
func PreviewColumns(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width / 2
}

func supportsGraphics(getenv func(string) string) bool {
	termProgram := strings.ToLower(getenv("TERM_PROGRAM"))
	for _, prog := range []string{"kitty", "ghostty", "wezterm"} {
		if termProgram == prog {
			return true
		}
	}

	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	termEnv := strings.ToLower(getenv("TERM"))
	return strings.Contains(termEnv, "kitty") || strings.Contains(termEnv, "ghostty")
}
