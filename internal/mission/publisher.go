package mission

import (
	"context"

	"github.com/keeperhq/recoveryd/internal/state"
)

// StatusPublisher mirrors mission progress to an external surface after
// each state change. Publishing is best effort; failures never block
// the mission.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, st *state.RecoveryState) error
}

type nopPublisher struct{}

var _ StatusPublisher = nopPublisher{}

func (nopPublisher) PublishStatus(context.Context, *state.RecoveryState) error {
	return nil
}
