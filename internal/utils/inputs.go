package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes/no question on w and reads the answer from r.
// An empty answer picks def; end of input declines. Anything else is asked again.
func Confirm(r io.Reader, w io.Writer, question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	scanner := bufio.NewScanner(r)

	for {
		_, _ = fmt.Fprintf(w, "%s [%s]: ", question, hint)
		if !scanner.Scan() {
			return false
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			return def
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		_, _ = fmt.Fprintln(w, "Please answer y or n.")
	}
}
