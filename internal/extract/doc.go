// Package extract turns a tab page into archivable content: verbatim tab text
// with an optional metadata header, or the raw bytes of a downloadable
// Guitar Pro / Power Tab file.
package extract
