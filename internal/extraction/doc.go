// Package extraction defines the core types and ports shared across the
// speaker-extraction subsystems: jobs, scrape artifacts, canonical entities,
// URL filtering, page classification, and identity normalization.
package extraction
