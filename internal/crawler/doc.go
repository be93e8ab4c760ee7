// Package crawler implements the resilient fetch layer shared by discovery and
// extraction: request and response types, the static and rendered loader
// capability, the network retry loop, the content-readiness loop and
// per-worker pacing.
package crawler
