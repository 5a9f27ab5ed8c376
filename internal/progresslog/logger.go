// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package progresslog

import (
	"sync"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
)

// logInterval is the minimum time between progress log statements unless
// forced.
const logInterval = 10 * time.Second

// pickNoun returns the singular or plural form of a noun depending on the
// provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// SessionSummary describes a finished mixing session.
type SessionSummary struct {
	Complete     bool
	Participants int
	Inputs       int
	Amount       dcrutil.Amount
}

// Logger provides periodic logging of finished mixing sessions.
type Logger struct {
	sync.Mutex
	subsystemLogger slog.Logger
	progressAction  string

	// lastLogTime tracks the last time a log statement was shown.
	lastLogTime time.Time

	// These fields accumulate information about sessions between log
	// statements.
	completed    uint64
	failed       uint64
	participants uint64
	inputs       uint64
	mixed        dcrutil.Amount
}

// New returns a new session progress logger.
func New(progressAction string, logger slog.Logger) *Logger {
	return &Logger{
		lastLogTime:     time.Now(),
		progressAction:  progressAction,
		subsystemLogger: logger,
	}
}

// LogSession accumulates details for the provided session and periodically
// (every 10 seconds) logs an information message to show progress to the user
// along with duration and totals included.
//
// The force flag may be used to force a log message to be shown regardless of
// the time the last one was shown.
//
// The progress message is templated as follows:
//  {progressAction} {numCompleted} {sessions|session} in the last {timePeriod}
//  ({numFailed} failed, {numParticipants} {participants|participant},
//  {numInputs} {inputs|input}, {amountMixed} mixed)
func (l *Logger) LogSession(s *SessionSummary, forceLog bool) {
	l.Lock()
	defer l.Unlock()

	if s.Complete {
		l.completed++
		l.participants += uint64(s.Participants)
		l.inputs += uint64(s.Inputs)
		l.mixed += s.Amount
	} else {
		l.failed++
	}
	now := time.Now()
	duration := now.Sub(l.lastLogTime)
	if !forceLog && duration < logInterval {
		return
	}

	l.subsystemLogger.Infof("%s %d %s in the last %0.2fs (%d failed, %d %s, "+
		"%d %s, %v mixed)", l.progressAction,
		l.completed, pickNoun(l.completed, "session", "sessions"),
		duration.Seconds(), l.failed,
		l.participants, pickNoun(l.participants, "participant", "participants"),
		l.inputs, pickNoun(l.inputs, "input", "inputs"),
		l.mixed)

	l.completed = 0
	l.failed = 0
	l.participants = 0
	l.inputs = 0
	l.mixed = 0
	l.lastLogTime = now
}

// SetLastLogTime updates the last time data was logged to the provided time.
func (l *Logger) SetLastLogTime(time time.Time) {
	l.Lock()
	l.lastLogTime = time
	l.Unlock()
}
