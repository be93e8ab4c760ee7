package orchestrator

import (
	"errors"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
)

var (
	// ErrNothingProcessed reports a run that completed without archiving a
	// single artist (scrape modes) or tab (download-only).
	ErrNothingProcessed = errors.New("nothing processed")
	// ErrInterrupted reports a run stopped by cancellation after its summary
	// was flushed.
	ErrInterrupted = errors.New("run interrupted")
)

// Pipeline stages recorded in error records.
const (
	StageLoad    = "load"
	StageScrape  = "scrape"
	StageExtract = "extract"
	StagePersist = "persist"
)

func errorKind(err error) string {
	return crawler.ErrorKind(err)
}
