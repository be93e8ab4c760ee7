// Package model holds the records archived by tabarchiver: artists, their tab
// references, tab metadata and the per-run summary.
package model
