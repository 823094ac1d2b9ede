package authctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// Test seams for the terminal.
var (
	readPassword           = term.ReadPassword
	isTerminal             = term.IsTerminal
	stdin        io.Reader = os.Stdin
	stdinFd                = func() int { return int(os.Stdin.Fd()) }
)

// getPassword prompts on w and reads a password without echo. When stdin
// is not a terminal the first line of stdin is used, so the command can be
// scripted.
func getPassword(w io.Writer, prompt string) (string, error) {
	if !isTerminal(stdinFd()) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(stdinFd())
	defer common.WipeByteArray(pw)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
