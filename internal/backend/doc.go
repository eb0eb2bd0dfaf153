// Package backend defines the interface that execution backends implement to
// run a unit of work in an independently scheduled execution context, along
// with the registry the launcher uses to pick one.
package backend
