// Package domain defines the core types for the MAM policy query library.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. It holds:
//
// - The closed location, notification and document picker enumerations
// - Optional account identities
// - The immutable policy Snapshot and the location decision rules
// - The SnapshotSource interface implemented by providers in package config
//
// The dependency direction is always:
//
//	config, policy, cmd → domain (CORRECT)
//	domain → infrastructure (FORBIDDEN)
package domain
