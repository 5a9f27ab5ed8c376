// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package instantx

import (
	"sync"
	"testing"

	"github.com/decred/slog"
)

// testLog writes to the log of a test until the test finishes.  Messages
// handled by network goroutines may be logged after that.
type testLog struct {
	mtx  sync.Mutex
	t    *testing.T
	done bool
}

func (l *testLog) Write(b []byte) (int, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.done {
		l.t.Logf("%s", b)
	}
	return len(b), nil
}

// useTestLogger sets the package-level logger to a backend that writes
// trace-level logs to the test log.
//
// Due to the use of a global logger variable that must write to individual
// test logs, it is not possible to parallelize tests.
func useTestLogger(t *testing.T) {
	w := &testLog{t: t}
	l := slog.NewBackend(w).Logger("IXLK")
	l.SetLevel(slog.LevelTrace)
	UseLogger(l)
	t.Cleanup(func() {
		UseLogger(slog.Disabled)
		w.mtx.Lock()
		w.done = true
		w.mtx.Unlock()
	})
}
