package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out io.Writer

	// columns, when positive, scales the placement to that many cells wide.
	columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// Encode transmits and places data under the given image id. Placing with
// an id already on screen replaces that image.
func (e *KittyEncoder) Encode(data []byte, id int) error {
	if len(data) == 0 {
		return nil
	}

	chunks := splitIntoChunks(base64.StdEncoding.EncodeToString(data), chunkSize)
	head := fmt.Sprintf("a=T,f=100,q=2,i=%d", id)
	if e.columns > 0 {
		head += fmt.Sprintf(",c=%d", e.columns)
	}

	for i, chunk := range chunks {
		var params string
		switch {
		case len(chunks) == 1:
			params = head
		case i == 0:
			params = head + ",m=1"
		case i == len(chunks)-1:
			params = "m=0"
		default:
			params = "m=1"
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the placements of the given image id.
func (e *KittyEncoder) Delete(id int) error {
	_, err := fmt.Fprintf(e.out, "%sa=d,d=I,i=%d,q=2%s", escapeStart, id, escapeEnd)
	return err
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := size
		if len(s) < n {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
