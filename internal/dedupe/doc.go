// Package dedupe provides a time-bounded seen-key cache used to drop
// redelivered realtime change events before they reach the stores.
package dedupe
