// Package admin is the HTTP operations surface: metric snapshots and
// summaries, dead-letter inspection and removal, and manual circuit-breaker
// reset. Every endpoint requires an admin principal.
package admin
