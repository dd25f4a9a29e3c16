package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandExtractor runs an external unzip binary. The archive path and the
// destination are passed as separate argv elements, never through a shell.
type CommandExtractor struct {
	Command string
	WorkDir string
}

// NewCommandExtractor creates a CommandExtractor running command from workDir.
func NewCommandExtractor(command, workDir string) *CommandExtractor {
	return &CommandExtractor{Command: command, WorkDir: workDir}
}

// Extract runs `<command> -o -q <archive> -d <dest>`.
func (c *CommandExtractor) Extract(ctx context.Context, archivePath, destDir string) (Stats, error) {
	bin, err := exec.LookPath(c.Command)
	if err != nil {
		return Stats{}, fmt.Errorf("unzip binary unavailable: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "-o", "-q", archivePath, "-d", destDir)
	cmd.Dir = c.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Stats{}, fmt.Errorf("%s: %w: %s", c.Command, err, msg)
		}
		return Stats{}, fmt.Errorf("%s: %w", c.Command, err)
	}

	return Stats{}, nil
}

