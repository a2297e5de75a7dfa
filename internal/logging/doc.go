// Package logging assembles the structured slog loggers used across earmark.
//
// It owns the console/JSON handler selection, centralizes level parsing and
// output plumbing, and exposes typed attribute helpers plus a no-op logger so
// command code and tests emit data with the same shape.
//
// Prefer these constructors over hand-rolled slog setup.
package logging
