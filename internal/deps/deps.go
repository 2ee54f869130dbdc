package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"clipforge/internal/config"
)

const versionProbeTimeout = 5 * time.Second

// Requirement defines an external binary clipforge relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the binary to read its version.
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Version     string
	Detail      string
}

// MediaRequirements lists the transcoding binaries named by the media config.
func MediaRequirements(media config.Media) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     media.FFmpegBinary,
			Description: "Required for segment encoding and thumbnails",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
		{
			Name:        "FFprobe",
			Command:     media.FFprobeBinary,
			Description: "Required for media inspection",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
// A binary that resolves but fails its version probe is still reported as
// available, with the failure in Detail.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		if len(req.VersionArgs) > 0 {
			version, err := probeVersion(ctx, resolved, req.VersionArgs)
			if err != nil {
				status.Detail = fmt.Sprintf("version probe failed: %v", err)
			} else {
				status.Version = version
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
