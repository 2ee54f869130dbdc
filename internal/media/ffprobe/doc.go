// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and decodes its JSON; Reader.Read summarizes the
// result into the duration and codec details the job pipeline needs.
// Failures carry services.ErrExternalTool so callers classify them as media
// processing errors.
package ffprobe
