package cmd

import (
	"fmt"
	"strings"
)

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// exitCode extracts the code embedded by exitError, defaulting to 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, "(exit code "); i >= 0 {
		var code int
		if _, scanErr := fmt.Sscanf(msg[i:], "(exit code %d)", &code); scanErr == nil {
			return code
		}
	}
	return 1
}
