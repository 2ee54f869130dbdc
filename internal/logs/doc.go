// Package logs reads the daemon log file for `clipforge logs`.
//
// Reads are offset based so a follower can resume where the previous page
// ended. A negative offset returns the last N matching lines. Lines can be
// narrowed to those mentioning a job, user, or any other token, which works
// for both the console and JSON log formats because identifiers are written
// verbatim in either.
package logs
