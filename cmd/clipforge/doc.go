// Command clipforge is the operator CLI for the clipforge daemon.
//
// Commands that need the worker pool (process, sweep run) talk to the daemon
// over its unix socket. Job, clip, and credit inspection reads the database
// directly, so those commands work while the daemon is stopped.
package main
