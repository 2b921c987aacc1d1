package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func (a *App) readLine() (string, error) {
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword hides the input when stdin is a terminal and falls back
// to a plain line read otherwise, so tests and pipes keep working.
func (a *App) readPassword(prompt string) (string, error) {
	a.printf("%s", prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return a.readLine()
	}
	b, err := term.ReadPassword(fd)
	a.printf("\n")
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}
