// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixing

import "time"

// Protocol timing.
const (
	// PhaseTimeout is how long a session may wait in a single phase
	// (collecting contributions or collecting signatures) before it either
	// advances with what it has or fails.
	PhaseTimeout = 30 * time.Second

	// QueueTimeout is the lifetime of an advertised session that has not
	// yet started.
	QueueTimeout = 120 * time.Second

	// LockVoteTimeout bounds how long a transaction lock request waits for
	// quorum signatures.
	LockVoteTimeout = 60 * time.Second

	// LockTimeout is how long a completed transaction lock is honored
	// while its transaction remains unmined.
	LockTimeout = 60 * time.Minute

	// MasternodeExpiry is how long a masternode stays in the registry
	// without being refreshed.
	MasternodeExpiry = 65 * time.Minute
)
