// Package notifications delivers operator alerts via ntfy.
//
// The ntfy implementation posts plain-text messages to the configured topic
// and degrades to a no-op when no topic is set. Critical error and health
// warning events can be muted independently through config.
package notifications
