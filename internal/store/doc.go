// Package store manages the on-disk archive: one band_{id}.json record per
// artist, a content directory per artist holding the tab files, and the run
// summaries. Writes go through a temp file and rename so a killed run never
// leaves a truncated record behind.
package store
