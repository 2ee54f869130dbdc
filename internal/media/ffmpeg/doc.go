// Package ffmpeg cuts clips and captures thumbnails with the ffmpeg CLI.
//
// Segment re-encodes one time range with the configured CRF video and fixed
// audio bitrate, optionally burning in the source's subtitles, and streams
// -progress output as Progress callbacks. Command execution sits behind the
// Executor interface so tests can script ffmpeg's output.
package ffmpeg
