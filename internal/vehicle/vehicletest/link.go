// Package vehicletest provides a scripted in-memory vehicle.Link for tests.
// Behavior is configured up front: how many state polls until the vehicle
// reports armable, how many arm requests it ignores, which status texts it
// emits once a listener attaches.
package vehicletest

import (
	"context"
	"sync"
	"time"

	"github.com/aerotest/missioncheck/internal/model"
	"github.com/aerotest/missioncheck/internal/vehicle"
)

// CommandSet records mission uploads.
type CommandSet struct {
	mu        sync.Mutex
	pending   []model.Command
	uploaded  []model.Command
	clears    int
	uploads   int
	uploadErr error
}

func (cs *CommandSet) Clear() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pending = nil
	cs.uploaded = nil
	cs.clears++
}

func (cs *CommandSet) Add(cmd model.Command) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pending = append(cs.pending, cmd)
}

func (cs *CommandSet) Upload(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.uploadErr != nil {
		return cs.uploadErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cs.uploaded = append([]model.Command(nil), cs.pending...)
	cs.uploads++
	return nil
}

func (cs *CommandSet) Items() []model.Command {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]model.Command(nil), cs.uploaded...)
}

// Uploads reports how many times Upload succeeded.
func (cs *CommandSet) Uploads() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.uploads
}

// Clears reports how many times Clear was called.
func (cs *CommandSet) Clears() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clears
}

// Link is a scripted vehicle.Link.
type Link struct {
	mu sync.Mutex

	commands CommandSet

	armablePollsLeft int
	armRequestsLeft  int
	armed            bool
	armCalls         int

	mode       string
	startCount int
	startCalls int

	heartbeatAge time.Duration
	position     model.Position
	groundspeed  float64
	heading      float64

	script    []string
	delivered bool

	subs         map[int]func(string)
	nextSubID    int
	unsubscribes int

	closed bool
}

// NewLink returns a link that is immediately armable, arms on the first
// request, and has a fresh heartbeat.
func NewLink() *Link {
	return &Link{
		armRequestsLeft: 1,
		subs:            map[int]func(string){},
	}
}

// RequireArmablePolls makes the first n Snapshot calls report not armable.
func (l *Link) RequireArmablePolls(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armablePollsLeft = n
}

// RequireArmRequests makes the vehicle ignore the first n-1 arm requests.
func (l *Link) RequireArmRequests(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armRequestsLeft = n
}

// Script queues status texts delivered, in order, as soon as a status-text
// subscriber attaches.
func (l *Link) Script(texts ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = append(l.script, texts...)
}

// SetHeartbeatAge forces the reported heartbeat staleness.
func (l *Link) SetHeartbeatAge(age time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeatAge = age
}

// SetPosition sets the position reported by Snapshot.
func (l *Link) SetPosition(p model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = p
}

func (l *Link) Commands() vehicle.CommandSet {
	return &l.commands
}

func (l *Link) SetMode(ctx context.Context, mode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	return nil
}

func (l *Link) Arm(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armCalls++
	if l.armRequestsLeft > 0 {
		l.armRequestsLeft--
	}
	if l.armRequestsLeft == 0 {
		l.armed = true
	}
	return nil
}

func (l *Link) SendMissionStart(ctx context.Context, count int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startCount = count
	l.startCalls++
	return nil
}

func (l *Link) SubscribeStatusText(fn func(string)) func() {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subs[id] = fn
	var script []string
	if !l.delivered {
		script = l.script
		l.delivered = true
	}
	l.mu.Unlock()

	// Scripted texts arrive synchronously so tests stay deterministic.
	for _, text := range script {
		fn(text)
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			l.unsubscribes++
		}
	}
}

// Emit delivers a status text to all current subscribers.
func (l *Link) Emit(text string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(text)
	}
}

func (l *Link) HeartbeatAge() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heartbeatAge
}

func (l *Link) Snapshot() vehicle.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	armable := l.armablePollsLeft == 0
	if l.armablePollsLeft > 0 {
		l.armablePollsLeft--
	}
	return vehicle.Snapshot{
		IsArmable:   armable,
		Armed:       l.armed,
		Mode:        l.mode,
		Groundspeed: l.groundspeed,
		Heading:     l.heading,
		Position:    l.position,
	}
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Mode reports the last mode set on the link.
func (l *Link) Mode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// StartCount reports the item count sent with the mission-start command.
func (l *Link) StartCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startCount
}

// StartCalls reports how many mission-start commands were sent.
func (l *Link) StartCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startCalls
}

// ArmCalls reports how many arm requests were received.
func (l *Link) ArmCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armCalls
}

// Unsubscribed reports whether every subscription was released.
func (l *Link) Unsubscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs) == 0 && l.unsubscribes > 0
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// UploadedCommands returns the synchronized command list.
func (l *Link) UploadedCommands() []model.Command {
	return l.commands.Items()
}
