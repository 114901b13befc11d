package ticket

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/skip2/go-qrcode"
)

const pngSize = 256

// IsTerminal reports whether f is an interactive terminal, where a block-character QR code is
// scannable. Piped output gets the raw token instead.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WriteTerminal draws t's QR code with block characters.
func WriteTerminal(w io.Writer, t Ticket) error {
	if t.QRToken == "" {
		return ErrTicketLocked
	}
	q, err := qrcode.New(t.QRToken, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("ticket: encode qr: %w", err)
	}
	_, err = io.WriteString(w, q.ToString(false))
	return err
}

// WriteToken writes t's raw QR token on its own line, for output that is not a terminal.
func WriteToken(w io.Writer, t Ticket) error {
	if t.QRToken == "" {
		return ErrTicketLocked
	}
	_, err := fmt.Fprintln(w, t.QRToken)
	return err
}

// WritePNG writes t's QR code to dir/ticket-<event id>.png and returns the path.
func WritePNG(dir string, t Ticket) (string, error) {
	if t.QRToken == "" {
		return "", ErrTicketLocked
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ticket: create dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("ticket-%d.png", t.EventID))
	if err := qrcode.WriteFile(t.QRToken, qrcode.Medium, pngSize, path); err != nil {
		return "", fmt.Errorf("ticket: write png: %w", err)
	}
	return path, nil
}
