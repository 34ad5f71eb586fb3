package server

import (
	"bytes"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Listing renders the entries of dir, one per line, sorted by name:
// name, size in bytes and modification time. Directories end with a slash.
func Listing(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error while reading dir %s: %w", dir, err)
	}

	var buf bytes.Buffer

	w := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}

		name := e.Name()
		if e.IsDir() {
			name += "/"
		}

		fmt.Fprintf(w, "%s\t%d\t%s\n", name, info.Size(), info.ModTime().UTC().Format(time.RFC3339))
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("error while rendering listing: %w", err)
	}

	return buf.Bytes(), nil
}
