package usecase

import (
	"context"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/pkg/queue"
)

// SignalReplayJob retries signal appends that failed against the event
// store. The hub enqueues the full signal; this job replays the insert.
type SignalReplayJob struct {
	store domrepo.EventStore
}

func NewSignalReplayJob(store domrepo.EventStore) *SignalReplayJob {
	return &SignalReplayJob{store: store}
}

func (j *SignalReplayJob) Name() string { return "signal-replay" }

func (j *SignalReplayJob) Type() string { return "signal_append" }

func (j *SignalReplayJob) Handle(ctx context.Context, payload interface{}) error {
	sig, err := queue.ParsePayload[models.Signal](payload)
	if err != nil {
		return err
	}
	return j.store.AppendSignal(ctx, sig)
}

var _ queue.Job = (*SignalReplayJob)(nil)
