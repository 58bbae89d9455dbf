package mavlink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/rs/zerolog/log"

	"github.com/aerotest/missioncheck/internal/model"
)

// commandSet implements vehicle.CommandSet over the MAVLink mission
// protocol. Upload plays the ground-station side of the handshake: a
// MISSION_COUNT announcement, one MISSION_ITEM_INT per request from the
// vehicle, then the vehicle's MISSION_ACK settles the transfer.
type commandSet struct {
	link *Link

	mu     sync.Mutex
	staged []model.Command
	synced []model.Command
	active *upload
}

type upload struct {
	items []model.Command
	ack   chan error
}

func (c *commandSet) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = nil
}

func (c *commandSet) Add(cmd model.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = append(c.staged, cmd)
}

func (c *commandSet) Items() []model.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]model.Command, len(c.synced))
	copy(items, c.synced)
	return items
}

func (c *commandSet) Upload(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return errors.New("mission upload already in progress")
	}
	items := make([]model.Command, len(c.staged))
	copy(items, c.staged)
	up := &upload{items: items, ack: make(chan error, 1)}
	c.active = up
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	sys, comp := c.link.target()
	err := c.link.send(&ardupilotmega.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(len(items)),
		MissionType:     ardupilotmega.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-up.ack:
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.synced = items
		c.mu.Unlock()
		log.Debug().Int("count", len(items)).Msg("mission synchronized")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mission upload: %w", ctx.Err())
	}
}

// answerRequest serves one item of the in-flight upload. Requests for
// items outside the announced range are the vehicle's problem, not ours;
// they are logged and dropped.
func (c *commandSet) answerRequest(seq int) {
	c.mu.Lock()
	up := c.active
	c.mu.Unlock()
	if up == nil {
		log.Debug().Int("seq", seq).Msg("mission request outside an upload")
		return
	}
	if seq < 0 || seq >= len(up.items) {
		log.Warn().Int("seq", seq).Int("count", len(up.items)).Msg("mission request out of range")
		return
	}

	cmd := up.items[seq]
	sys, comp := c.link.target()
	err := c.link.send(&ardupilotmega.MessageMissionItemInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             uint16(seq),
		Frame:           ardupilotmega.MAV_FRAME(cmd.Frame),
		Command:         common.MAV_CMD(cmd.ID),
		Autocontinue:    1,
		Param1:          float32(cmd.Param1),
		Param2:          float32(cmd.Param2),
		Param3:          float32(cmd.Param3),
		Param4:          float32(cmd.Param4),
		X:               int32(math.Round(cmd.X * 1e7)),
		Y:               int32(math.Round(cmd.Y * 1e7)),
		Z:               float32(cmd.Z),
		MissionType:     ardupilotmega.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		log.Warn().Err(err).Int("seq", seq).Msg("mission item send failed")
	}
}

func (c *commandSet) finishUpload(result ardupilotmega.MAV_MISSION_RESULT) {
	c.mu.Lock()
	up := c.active
	c.mu.Unlock()
	if up == nil {
		return
	}
	var err error
	if result != ardupilotmega.MAV_MISSION_ACCEPTED {
		err = fmt.Errorf("vehicle rejected mission: %v", result)
	}
	select {
	case up.ack <- err:
	default:
	}
}
