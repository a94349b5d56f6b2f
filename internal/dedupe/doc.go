// Package dedupe tracks recently processed webhook delivery IDs so that
// platform retries of the same event are absorbed instead of reprocessed.
package dedupe
