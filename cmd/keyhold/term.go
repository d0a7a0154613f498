package main

import (
	"os"

	"golang.org/x/term"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func readPassword() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}
