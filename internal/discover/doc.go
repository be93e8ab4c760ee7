// Package discover walks the site's artist index and per-artist tab
// catalogues and yields them lazily in site order.
package discover
