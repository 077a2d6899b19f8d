// Package domain models the layered daily climate dataset and the three pure
// stage functions that build it.
//
// # Layers
//
// Bronze is the raw, append-only union of every absorbed batch. Each row keeps
// the batch id and its position in the batch as an origin marker, so exact
// duplicates and overlapping dates survive as received. The Ledger governs
// Bronze: a batch id appears in it at most once, and a batch is absorbed in
// full or not at all.
//
// Silver holds one row per calendar day between the first and last Bronze
// date. Duplicates are collapsed, gaps are filled, missing readings imputed and
// enrichment columns appended.
//
// Gold restricts Silver to a configured feature set and adds a target column
// holding the next day's mean temperature. The last Silver day has no
// successor and is dropped.
//
// # Schema
//
// Every batch carries exactly these columns, in any order:
//
//	date, meantemp, humidity, wind_speed, meanpressure
//
// Dates are calendar days (YYYY-MM-DD). Numeric cells may be empty or "NaN",
// both of which mean missing.
//
// # Duplicate dates
//
// When several Bronze rows share a date, the one with the highest origin wins:
// the larger batch id, then the later row within that batch. The rule depends
// only on the set of absorbed batches, never on the order they were ingested
// in, which keeps Silver and Gold a pure function of that set. Gold targets
// are read from the already-deduplicated Silver, so the rule cannot produce two
// targets for one day.
//
// # Imputation
//
// Missing values are filled by linear interpolation between the nearest
// observed neighbours in date order. Leading and trailing gaps take the
// nearest observation. A column with no observation at all cannot be imputed;
// its cells stay NaN and the validation report fails.
//
// # Errors
//
// [SchemaError] and [ConfigError] are structural and abort a stage before any
// output is written. [QualityFailure] is returned by a report's Err method when
// its status is fail; it never aborts the pipeline.
package domain
