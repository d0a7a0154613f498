package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/fatih/color"
)

func main() {
	memguard.CatchInterrupt()

	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			memguard.SafeExit(ee.code)
		}
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		memguard.SafeExit(1)
	}
	memguard.Purge()
}

// exitError ends the process with a status code and no message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
