package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword reads a line from the terminal f without echo.
func readPassword(f *os.File, echo io.Writer) (string, error) {
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(echo)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}
