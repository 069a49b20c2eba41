// internal/game/timers.go
package game

import (
	"context"
	"time"
)

// Each client runs its own countdowns; nothing enforces the deadline
// remotely. A timer is always stopped before another of the same kind
// starts, and every callback re-checks its sequence number so a timer that
// fired while being replaced does nothing.

func (m *Machine) startPromptTimerLocked() {
	m.stopPromptTimerLocked()
	d := time.Duration(m.settings.PromptTimerSeconds) * time.Second
	if d <= 0 {
		return
	}
	seq, round := m.promptSeq, m.s.Round
	m.promptTimer = m.clock.AfterFunc(d, func() {
		// off the clock's goroutine, the handler takes the machine lock
		go m.onPromptTimeout(seq, round)
	})
}

func (m *Machine) stopPromptTimerLocked() {
	if m.promptTimer != nil {
		m.promptTimer.Stop()
		m.promptTimer = nil
	}
	m.promptSeq++
}

func (m *Machine) startVotingTimerLocked() {
	m.stopVotingTimerLocked()
	d := time.Duration(m.settings.VotingTimerSeconds) * time.Second
	if d <= 0 {
		return
	}
	seq, round := m.votingSeq, m.s.Round
	m.votingTimer = m.clock.AfterFunc(d, func() {
		go m.onVotingTimeout(seq, round)
	})
}

func (m *Machine) stopVotingTimerLocked() {
	if m.votingTimer != nil {
		m.votingTimer.Stop()
		m.votingTimer = nil
	}
	m.votingSeq++
}

func (m *Machine) stopTimersLocked() {
	m.stopPromptTimerLocked()
	m.stopVotingTimerLocked()
}

// onPromptTimeout submits the draft, or the placeholder answer, for a
// player who has not answered in time.
func (m *Machine) onPromptTimeout(seq, round int) {
	m.mu.Lock()
	if seq != m.promptSeq || m.s.Phase != PhaseAnswering || m.s.Round != round || m.s.Answered {
		m.logLocked().Debugf("stale prompt timer for round %d ignored", round)
		m.mu.Unlock()
		return
	}
	m.promptTimer = nil
	draft := m.s.Draft
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	if err := m.submitAnswer(ctx, draft, true); err != nil {
		m.mu.Lock()
		m.logLocked().Warnf("auto-submit failed: %v", err)
		phase := m.s.Phase
		m.mu.Unlock()
		m.emit([]Event{{Type: EventError, Phase: phase, Round: round, Err: err}})
	}
}

// onVotingTimeout concludes voting even if not everyone voted.
func (m *Machine) onVotingTimeout(seq, round int) {
	m.mu.Lock()
	if seq != m.votingSeq || m.s.Phase != PhaseVoting || m.s.Round != round {
		m.logLocked().Debugf("stale voting timer for round %d ignored", round)
		m.mu.Unlock()
		return
	}
	m.votingTimer = nil
	m.logLocked().Info("voting timer expired")
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	m.enterScoring(ctx, round)
}
