package serial

import (
	"fmt"
	"io"

	"github.com/pkg/term"
)

// Open opens the device node at path in raw mode and sets it to baud. The
// returned handle is a plain io.ReadWriteCloser; callers drive it through
// Reader and Writer rather than touching term.Term directly. Callers
// normally pass BaudRate; the parameter exists so internal/doctor can probe
// a misconfigured rate without duplicating the open sequence.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	t, err := term.Open(path, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	if err := t.SetSpeed(baud); err != nil {
		t.Close()
		return nil, fmt.Errorf("serial: set speed %d on %s: %w", baud, path, err)
	}

	return t, nil
}
