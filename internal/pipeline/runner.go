package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner executes an external collaborator and returns its combined
// output. Stages hold one so tests can substitute a stub.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", name, err, outputTail(output))
	}
	return output, nil
}

// outputTail keeps error messages readable: the last few lines of tool
// output are where ffmpeg and friends put the actual reason.
func outputTail(output []byte) string {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return "no output"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, " | ")
}
