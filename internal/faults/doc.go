// Package faults implements the error taxonomy shared by the pipeline.
//
// Components raise *Error values carrying a Type from a closed set, an
// optional severity, and a structured Context. Errors that arrive untyped are
// classified by sentinel marker and then by message keywords. Handler is the
// single place errors are logged, persisted (with credentials redacted),
// counted, and escalated to the critical hook. Construct one Handler at
// startup and pass it to every component that needs it.
package faults
