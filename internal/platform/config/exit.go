package config

import (
	"fmt"
	"io"
	"os"
)

// Exitf reports a command failure on stderr and exits with status 1.
// Deferred calls in the caller do not run; release them before calling.
func Exitf(format string, args ...any) {
	exitf(os.Stderr, os.Exit, format, args...)
}

func exitf(w io.Writer, exit func(int), format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
	exit(1)
}
