package config

import (
	"bytes"
	"testing"
)

func TestExitfWritesLineAndStatus(t *testing.T) {
	var out bytes.Buffer
	code := -1
	exitf(&out, func(c int) { code = c }, "Error: %v", "manifest has no projects")

	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if out.String() != "Error: manifest has no projects\n" {
		t.Fatalf("output = %q", out.String())
	}
}
