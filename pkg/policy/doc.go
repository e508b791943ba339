// Package policy answers MAM data-loss-prevention queries against the
// snapshot supplied by a domain.SnapshotSource.
//
// The Facade is a pure read path: it never mutates policy state and every
// accessor is total, returning a verdict rather than an error. URL decisions
// use ordered glob rules and, when a snapshot carries one, an embedded Open
// Policy Agent module evaluated by Engine. Snapshot delivery and refresh
// belong to package config.
package policy
