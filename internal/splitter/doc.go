// Package splitter slices a source video into fixed-length clips.
//
// Plan computes the segment boundaries. Split transcodes the segments
// strictly in index order, captures a thumbnail at 10% of each clip, and
// persists each clip as soon as it exists so partial work survives a later
// failure. Cancellation is cooperative: Request.Continue is consulted between
// segments and an in-flight ffmpeg run is never interrupted by it.
package splitter
