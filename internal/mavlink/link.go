// Package mavlink implements the vehicle link over the MAVLink protocol.
//
// The link binds a local UDP endpoint that the simulator's telemetry
// forwarder sends to, identifies the autopilot by its first non-GCS
// heartbeat, and from then on mirrors vehicle state off the telemetry
// stream while commands are written back on the same channel.
package mavlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/rs/zerolog/log"

	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

const (
	gcsSystemID     = 255
	heartbeatPeriod = time.Second

	// Status texts queued per subscriber before drops start.
	statusTextBuffer = 64
)

// Link is the MAVLink implementation of vehicle.Link.
type Link struct {
	node     *gomavlib.Node
	kind     model.VehicleKind
	commands *commandSet

	mu            sync.Mutex
	haveVehicle   bool
	systemID      byte
	componentID   byte
	lastHeartbeat time.Time
	armed         bool
	state         ardupilotmega.MAV_STATE
	customMode    uint32
	havePosition  bool
	position      model.Position
	groundspeed   float64
	heading       float64
	subs          map[int]chan string
	nextSub       int
	readySignaled bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial binds addr, waits for the vehicle's heartbeat and first position
// fix, and returns the connected link. A context deadline elapsing while
// waiting reports model.ErrConnectionTimeout.
func Dial(ctx context.Context, addr string, kind model.VehicleKind) (*Link, error) {
	node := &gomavlib.Node{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPServer{Address: addr},
		},
		Dialect:             ardupilotmega.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         gcsSystemID,
		HeartbeatPeriod:     heartbeatPeriod,
		StreamRequestEnable: true,
	}
	if err := node.Initialize(); err != nil {
		return nil, fmt.Errorf("bind telemetry endpoint %s: %w", addr, err)
	}

	l := &Link{
		node:  node,
		kind:  kind,
		subs:  make(map[int]chan string),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	l.commands = &commandSet{link: l}
	go l.loop()

	select {
	case <-l.ready:
		return l, nil
	case <-ctx.Done():
		l.Close()
		return nil, fmt.Errorf("no vehicle on %s: %w", addr, model.ErrConnectionTimeout)
	}
}

func (l *Link) loop() {
	defer close(l.done)
	for evt := range l.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			l.handleFrame(e)
		case *gomavlib.EventChannelOpen:
			log.Debug().Stringer("channel", e.Channel).Msg("telemetry channel open")
		case *gomavlib.EventChannelClose:
			log.Debug().Stringer("channel", e.Channel).Msg("telemetry channel closed")
		case *gomavlib.EventParseError:
			log.Debug().Err(e.Error).Msg("unparsable telemetry frame")
		}
	}
}

func (l *Link) handleFrame(evt *gomavlib.EventFrame) {
	switch msg := evt.Message().(type) {
	case *ardupilotmega.MessageHeartbeat:
		l.handleHeartbeat(evt, msg)
	case *ardupilotmega.MessageGlobalPositionInt:
		l.mu.Lock()
		l.position = model.Position{
			Lat: float64(msg.Lat) / 1e7,
			Lon: float64(msg.Lon) / 1e7,
			Alt: float64(msg.RelativeAlt) / 1e3,
		}
		l.havePosition = true
		l.signalReadyLocked()
		l.mu.Unlock()
	case *ardupilotmega.MessageVfrHud:
		l.mu.Lock()
		l.groundspeed = float64(msg.Groundspeed)
		l.heading = float64(msg.Heading)
		l.mu.Unlock()
	case *ardupilotmega.MessageStatustext:
		l.publishStatusText(msg.Text)
	case *ardupilotmega.MessageMissionRequest:
		l.commands.answerRequest(int(msg.Seq))
	case *ardupilotmega.MessageMissionRequestInt:
		l.commands.answerRequest(int(msg.Seq))
	case *ardupilotmega.MessageMissionAck:
		l.commands.finishUpload(msg.Type)
	}
}

func (l *Link) handleHeartbeat(evt *gomavlib.EventFrame, msg *ardupilotmega.MessageHeartbeat) {
	if msg.Type == ardupilotmega.MAV_TYPE_GCS {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.haveVehicle {
		l.haveVehicle = true
		l.systemID = evt.SystemID()
		l.componentID = evt.ComponentID()
		log.Info().
			Uint8("system", l.systemID).
			Uint8("component", l.componentID).
			Msg("vehicle heartbeat acquired")
	}
	if evt.SystemID() != l.systemID {
		return
	}
	l.lastHeartbeat = time.Now()
	l.armed = msg.BaseMode&ardupilotmega.MAV_MODE_FLAG_SAFETY_ARMED != 0
	l.state = msg.SystemStatus
	l.customMode = msg.CustomMode
	l.signalReadyLocked()
}

func (l *Link) signalReadyLocked() {
	if l.readySignaled || !l.haveVehicle || !l.havePosition {
		return
	}
	l.readySignaled = true
	close(l.ready)
}

func (l *Link) publishStatusText(text string) {
	l.mu.Lock()
	targets := make([]chan string, 0, len(l.subs))
	for _, ch := range l.subs {
		targets = append(targets, ch)
	}
	l.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- text:
		default:
			log.Warn().Str("text", text).Msg("status text dropped, subscriber too slow")
		}
	}
}

// Commands returns the handle on the vehicle's mission storage.
func (l *Link) Commands() vehicle.CommandSet {
	return l.commands
}

// SetMode switches the flight mode. The request is fire and forget; the
// vehicle confirms by advertising the new mode in subsequent heartbeats.
func (l *Link) SetMode(ctx context.Context, mode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := l.kind.ModeID(mode)
	if !ok {
		return fmt.Errorf("unknown %s mode %q", l.kind, mode)
	}
	sys, comp := l.target()
	return l.send(&ardupilotmega.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         common.MAV_CMD_DO_SET_MODE,
		Param1:          float32(ardupilotmega.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		Param2:          float32(id),
	})
}

// Arm requests motors armed.
func (l *Link) Arm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sys, comp := l.target()
	return l.send(&ardupilotmega.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:          1,
	})
}

// SendMissionStart kicks off execution of the uploaded mission. The
// command is broadcast rather than targeted; the firmware begins at the
// first mission item.
func (l *Link) SendMissionStart(ctx context.Context, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.send(&ardupilotmega.MessageCommandLong{
		Command: common.MAV_CMD_MISSION_START,
		Param1:  1,
		Param2:  float32(count + 1),
		Param7:  4,
	})
}

// SubscribeStatusText registers fn for status-text payloads. Delivery is
// asynchronous through a buffered channel per subscriber so a slow handler
// cannot stall telemetry processing.
func (l *Link) SubscribeStatusText(fn func(text string)) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan string, statusTextBuffer)
	l.subs[id] = ch
	l.mu.Unlock()

	go func() {
		for text := range ch {
			fn(text)
		}
	}()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if ch, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}
}

// HeartbeatAge reports the time since the vehicle's last heartbeat.
func (l *Link) HeartbeatAge() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastHeartbeat)
}

// Snapshot returns the current mirrored vehicle state. The vehicle counts
// as armable once a position fix exists and the firmware reports standby.
func (l *Link) Snapshot() vehicle.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return vehicle.Snapshot{
		IsArmable:   l.havePosition && l.state == ardupilotmega.MAV_STATE_STANDBY,
		Armed:       l.armed,
		Mode:        l.kind.ModeName(l.customMode),
		Groundspeed: l.groundspeed,
		Heading:     l.heading,
		Position:    l.position,
	}
}

// Close shuts the endpoint down and releases all subscribers.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.node.Close()
		<-l.done
		l.mu.Lock()
		for id, ch := range l.subs {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	})
	return nil
}

func (l *Link) target() (system, component byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.haveVehicle {
		return 1, 1
	}
	return l.systemID, l.componentID
}

func (l *Link) send(msg message.Message) error {
	if err := l.node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("send %T: %w", msg, err)
	}
	return nil
}
