package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keeperhq/recoveryd/internal/mission"
	"github.com/keeperhq/recoveryd/internal/state"
)

// missionKeyPrefix is the Redis key namespace for mission status
// mirrors.
const missionKeyPrefix = "recoveryd:mission"

// missionStatusKey builds the key holding the latest status snapshot of
// a mission.
func missionStatusKey(missionID string) string {
	return fmt.Sprintf("%s:%s:status", missionKeyPrefix, missionID)
}

// missionEventsChannel builds the pub/sub channel carrying status
// snapshots as they happen.
func missionEventsChannel(missionID string) string {
	return fmt.Sprintf("%s:%s:events", missionKeyPrefix, missionID)
}

// PublishStatus stores the state snapshot as JSON under the mission's
// status key and pushes the same payload to its event channel. The key
// has no TTL; a finished mission keeps its final status readable.
func (c *client) PublishStatus(ctx context.Context, st *state.RecoveryState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}

	if err := c.conn.Set(ctx, missionStatusKey(st.MissionID), payload, 0).Err(); err != nil {
		return err
	}

	return c.conn.Publish(ctx, missionEventsChannel(st.MissionID), payload).Err()
}

// Ensure the client satisfies the StatusPublisher interface at compile time.
var _ mission.StatusPublisher = new(client)
