package deps

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// probeVersion runs binary with args and extracts the version token from the
// first output line. FFmpeg tools print "<name> version <token> ...". Any
// other first line is returned trimmed.
func probeVersion(ctx context.Context, binary string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, binary, args...).Output()
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	if !scanner.Scan() {
		return "", errors.New("no version output")
	}
	return parseVersionLine(scanner.Text()), nil
}

func parseVersionLine(line string) string {
	fields := strings.Fields(line)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}
