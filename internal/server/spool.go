package server

import (
	"fmt"
	"io"
	"os"
)

// spooled is an upload copied to a temporary file so it outlives the request
// that carried it.
type spooled struct {
	*os.File
}

func spool(dir string, r io.Reader) (*spooled, error) {
	f, err := os.CreateTemp(dir, "tremolo-upload-*")
	if err != nil {
		return nil, fmt.Errorf("server: spool upload: %w", err)
	}
	sp := &spooled{File: f}
	if _, err := io.Copy(f, r); err != nil {
		sp.Remove()
		return nil, fmt.Errorf("server: spool upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sp.Remove()
		return nil, fmt.Errorf("server: spool upload: %w", err)
	}
	return sp, nil
}

// Remove closes and deletes the file. It is safe to call more than once.
func (s *spooled) Remove() {
	_ = s.Close()
	_ = os.Remove(s.Name())
}
