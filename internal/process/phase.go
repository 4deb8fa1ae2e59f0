package process

import (
	"time"

	"github.com/brianly1003/pressd/internal/domain/events"
)

type jobTracker struct {
	entryID          string
	jobRef           string
	total            int64
	amount           int64
	startedAt        time.Time
	phaseStartedAt   time.Time
	phaseStartAmount int64
}

// JobPhase is a progress snapshot of the running job.
type JobPhase struct {
	EntryID            string              `json:"entry_id"`
	JobRef             string              `json:"job_ref"`
	Status             events.DeviceStatus `json:"status"`
	Amount             int64               `json:"amount"`
	Total              int64               `json:"total"`
	PercentComplete    float64             `json:"percent_complete"`
	StartedAt          time.Time           `json:"started_at"`
	PhaseStartedAt     time.Time           `json:"phase_started_at"`
	PhaseAmount        int64               `json:"phase_amount"`
	Elapsed            time.Duration       `json:"elapsed"`
	EstimatedRemaining time.Duration       `json:"estimated_remaining"`
}

// JobPhase returns a snapshot of the running job, or false when idle.
func (p *Process) JobPhase() (*JobPhase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job == nil {
		return nil, false
	}
	j := p.job
	now := time.Now()
	phase := &JobPhase{
		EntryID:        j.entryID,
		JobRef:         j.jobRef,
		Status:         p.status,
		Amount:         j.amount,
		Total:          j.total,
		StartedAt:      j.startedAt,
		PhaseStartedAt: j.phaseStartedAt,
		PhaseAmount:    j.amount - j.phaseStartAmount,
		Elapsed:        now.Sub(j.startedAt),
	}
	if j.total > 0 {
		phase.PercentComplete = float64(j.amount) * 100 / float64(j.total)
		if phase.PercentComplete > 100 {
			phase.PercentComplete = 100
		}
	}
	if j.amount > 0 && j.total > j.amount {
		perUnit := phase.Elapsed / time.Duration(j.amount)
		phase.EstimatedRemaining = perUnit * time.Duration(j.total-j.amount)
	}
	return phase, true
}
