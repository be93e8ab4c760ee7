// Package orchestrator drives an archive run: it walks the artist listing,
// hands each artist to a bounded pool of workers that list, download and
// persist its tabs, and keeps the run summary that is flushed on completion
// or interrupt.
package orchestrator
