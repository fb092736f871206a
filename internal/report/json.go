package report

import (
	"encoding/json"
	"io"
)

// WriteJSON writes p indented with two spaces. Output is stable for equal
// payloads.
func WriteJSON(w io.Writer, p *Payload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
