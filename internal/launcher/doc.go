// Package launcher spawns execution contexts for a unit of work, starts them
// concurrently and joins them. Every handle a run creates is joined, or
// cancelled and then joined, before the run returns, on every exit path.
package launcher
