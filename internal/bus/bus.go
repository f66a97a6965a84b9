// Package bus is the room-scoped notification hub. One goroutine owns every
// connection, room, presence record and pending bundle; the rest of the
// process talks to it through fire-and-forget calls.
package bus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

// PendingTTL bounds how long notifications wait for an offline user.
const PendingTTL = 5 * time.Minute

type Options struct {
	Policy        domain.AccessPolicy
	PendingTTL    time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

type Bus struct {
	policy  domain.AccessPolicy
	ttl     time.Duration
	sweep   time.Duration
	logger  *slog.Logger
	now     func() time.Time
	cmds    chan func()
	stopped chan struct{}

	// Owned by the loop.
	conns   map[string]*Conn
	users   map[string]*activeUser
	rooms   map[string]map[string]*Conn
	pending map[string]*bundle
}

func New(opts Options) *Bus {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = PendingTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Bus{
		policy:  opts.Policy,
		ttl:     opts.PendingTTL,
		sweep:   opts.SweepInterval,
		logger:  opts.Logger.With("component", "bus"),
		now:     opts.Now,
		cmds:    make(chan func(), 1024),
		stopped: make(chan struct{}),
		conns:   map[string]*Conn{},
		users:   map[string]*activeUser{},
		rooms:   map[string]map[string]*Conn{},
		pending: map[string]*bundle{},
	}
}

// Run owns the bus state until ctx ends, then closes every connection.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.sweep)
	defer ticker.Stop()
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, c := range b.conns {
				b.drop(c)
			}
			return nil
		case cmd := <-b.cmds:
			cmd()
		case <-ticker.C:
			b.sweepPending()
		}
	}
}

// post hands cmd to the loop. After shutdown commands are discarded.
func (b *Bus) post(cmd func()) {
	select {
	case b.cmds <- cmd:
	case <-b.stopped:
	}
}

// query runs fn on the loop and waits for it.
func (b *Bus) query(fn func()) bool {
	done := make(chan struct{})
	b.post(func() { fn(); close(done) })
	select {
	case <-done:
		return true
	case <-b.stopped:
		return false
	}
}

// Connect registers a new unauthenticated connection.
func (b *Bus) Connect() *Conn {
	c := newConn(uuid.NewString(), b.now())
	b.post(func() { b.conns[c.ID] = c })
	return c
}

// Disconnect removes a connection from every room and from presence.
func (b *Bus) Disconnect(c *Conn) {
	b.post(func() { b.drop(c) })
}

// Authenticate binds an identity to a connection, joins its user room and
// drains any pending bundle to it.
func (b *Bus) Authenticate(c *Conn, id *domain.Identity) {
	b.post(func() {
		if c.closed || id == nil {
			return
		}
		if prev := c.userID(); prev != "" && prev != id.UserID {
			b.leavePresence(c)
			b.leave(c, UserRoom(prev))
		}
		c.identity = id
		c.lastActivity = b.now()
		u, ok := b.users[id.UserID]
		if !ok {
			u = &activeUser{conns: map[string]struct{}{}}
			b.users[id.UserID] = u
		}
		u.identity = *id
		u.conns[c.ID] = struct{}{}
		u.lastActivity = c.lastActivity
		b.join(c, UserRoom(id.UserID))
		b.send(c, EventAuthSuccess, map[string]string{"userId": id.UserID})
		b.drainPending(id.UserID)
		b.broadcastPresence()
	})
}

// AuthFailed tells the client its session was rejected.
func (b *Bus) AuthFailed(c *Conn, message string) {
	b.post(func() { b.send(c, EventAuthError, map[string]string{"message": message}) })
}

// Subscribe joins a room. Restricted rooms need an employee; user rooms are
// joined through Authenticate only.
func (b *Bus) Subscribe(c *Conn, room string) {
	b.post(func() {
		if c.closed {
			return
		}
		if reason := b.denied(c, room); reason != "" {
			b.send(c, EventSubscribeError, map[string]string{"room": room, "message": reason})
			return
		}
		b.join(c, room)
		b.send(c, EventSubscribed, map[string]string{"room": room})
		if room == RoomLiveUsers {
			b.sendPresence(c, liveUsers(b.users, b.now()))
		}
	})
}

func (b *Bus) denied(c *Conn, room string) string {
	switch {
	case room == "":
		return "room required"
	case strings.HasPrefix(room, "user:"):
		if c.userID() == "" || UserRoom(c.userID()) != room {
			return "not your room"
		}
	case restricted(room):
		if !b.policy.IsEmployee(c.identity) {
			return "employees only"
		}
	}
	return ""
}

func (b *Bus) Unsubscribe(c *Conn, room string) {
	b.post(func() {
		if room == UserRoom(c.userID()) {
			return
		}
		b.leave(c, room)
	})
}

// PageView records the page a connection is on.
func (b *Bus) PageView(c *Conn, page string) {
	b.post(func() {
		if c.closed {
			return
		}
		now := b.now()
		c.page, c.lastActivity = page, now
		if u, ok := b.users[c.userID()]; ok {
			u.page, u.lastActivity = page, now
			b.broadcastPresence()
		}
	})
}

// Emit sends an event to every member of room.
func (b *Bus) Emit(room, event string, data any) {
	f, err := newFrame(event, data)
	if err != nil {
		b.logger.Error("unencodable event", "event", event, "error", err)
		return
	}
	b.post(func() { b.emitFrame(room, f) })
}

// Broadcast sends an event to every connection.
func (b *Bus) Broadcast(event string, data any) {
	f, err := newFrame(event, data)
	if err != nil {
		b.logger.Error("unencodable event", "event", event, "error", err)
		return
	}
	b.post(func() {
		for _, c := range b.conns {
			b.deliver(c, f)
		}
	})
}

// EmitToUser sends an event to a user's room. Events for offline users are
// dropped; use NotifyAchievements and NotifyCoins for events that must wait.
func (b *Bus) EmitToUser(userID, event string, data any) {
	b.Emit(UserRoom(userID), event, data)
}

// NotifyAchievements delivers achievements:earned to the user, or queues
// them in the user's pending bundle while they are offline.
func (b *Bus) NotifyAchievements(userID string, as []domain.Achievement) {
	if len(as) == 0 {
		return
	}
	as = append([]domain.Achievement(nil), as...)
	b.post(func() {
		if b.online(userID) {
			b.emitTo(UserRoom(userID), EventAchievementsEarned, map[string]any{"achievements": as})
			return
		}
		b.bundleFor(userID).addAchievements(as, b.now())
	})
}

// NotifyCoins is NotifyAchievements for flavor coins.
func (b *Bus) NotifyCoins(userID string, cs []domain.FlavorCoin) {
	if len(cs) == 0 {
		return
	}
	cs = append([]domain.FlavorCoin(nil), cs...)
	b.post(func() {
		if b.online(userID) {
			b.emitTo(UserRoom(userID), EventFlavorCoinsEarned, map[string]any{"coins": cs})
			return
		}
		b.bundleFor(userID).addCoins(cs, b.now())
	})
}

// Pending returns what is waiting for an offline user.
func (b *Bus) Pending(userID string) ([]domain.Achievement, []domain.FlavorCoin) {
	var (
		as []domain.Achievement
		cs []domain.FlavorCoin
	)
	b.query(func() {
		if bd, ok := b.pending[userID]; ok {
			as, cs = bd.contents()
		}
	})
	return as, cs
}

// LiveUsers returns the unredacted presence view.
func (b *Bus) LiveUsers() LiveUsersView {
	var v LiveUsersView
	b.query(func() { v = liveUsers(b.users, b.now()) })
	return v
}

// Stats counts connections and authenticated users.
func (b *Bus) Stats() (conns, users int) {
	b.query(func() { conns, users = len(b.conns), len(b.users) })
	return conns, users
}

// SweepPending discards stale pending items now.
func (b *Bus) SweepPending() { b.query(b.sweepPending) }

// --- loop-only helpers ---

func (b *Bus) online(userID string) bool {
	u, ok := b.users[userID]
	return ok && len(u.conns) > 0
}

func (b *Bus) bundleFor(userID string) *bundle {
	bd, ok := b.pending[userID]
	if !ok {
		bd = &bundle{}
		b.pending[userID] = bd
	}
	return bd
}

func (b *Bus) drainPending(userID string) {
	bd, ok := b.pending[userID]
	if !ok {
		return
	}
	delete(b.pending, userID)
	if !bd.prune(b.now().Add(-b.ttl)) {
		return
	}
	as, cs := bd.contents()
	if len(as) > 0 {
		b.emitTo(UserRoom(userID), EventAchievementsEarned, map[string]any{"achievements": as})
	}
	if len(cs) > 0 {
		b.emitTo(UserRoom(userID), EventFlavorCoinsEarned, map[string]any{"coins": cs})
	}
	b.logger.Info("pending notifications delivered", "user_id", userID,
		"achievements", len(as), "coins", len(cs))
}

func (b *Bus) sweepPending() {
	cutoff := b.now().Add(-b.ttl)
	for id, bd := range b.pending {
		if !bd.prune(cutoff) {
			delete(b.pending, id)
		}
	}
}

func (b *Bus) join(c *Conn, room string) {
	members, ok := b.rooms[room]
	if !ok {
		members = map[string]*Conn{}
		b.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (b *Bus) leave(c *Conn, room string) {
	if members, ok := b.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (b *Bus) leavePresence(c *Conn) bool {
	u, ok := b.users[c.userID()]
	if !ok {
		return false
	}
	delete(u.conns, c.ID)
	if len(u.conns) == 0 {
		delete(b.users, c.userID())
	}
	return true
}

func (b *Bus) drop(c *Conn) {
	if c.closed {
		return
	}
	for room := range c.rooms {
		b.leave(c, room)
	}
	delete(b.conns, c.ID)
	c.closed = true
	close(c.Send)
	if b.leavePresence(c) {
		b.broadcastPresence()
	}
}

func (b *Bus) deliver(c *Conn, f Frame) {
	if !c.deliver(f) && !c.closed {
		b.logger.Warn("dropping slow connection", "conn_id", c.ID, "user_id", c.userID())
		b.drop(c)
	}
}

func (b *Bus) emitFrame(room string, f Frame) {
	for _, c := range b.rooms[room] {
		b.deliver(c, f)
	}
}

func (b *Bus) send(c *Conn, event string, data any) {
	f, err := newFrame(event, data)
	if err != nil {
		return
	}
	b.deliver(c, f)
}

func (b *Bus) emitTo(room, event string, data any) {
	f, err := newFrame(event, data)
	if err != nil {
		b.logger.Error("unencodable event", "event", event, "error", err)
		return
	}
	b.emitFrame(room, f)
}

func (b *Bus) sendPresence(c *Conn, v LiveUsersView) {
	if !b.policy.IsAdminViewer(c.identity) {
		v = v.Redacted()
	}
	b.send(c, EventLiveUsers, v)
}

func (b *Bus) broadcastPresence() {
	members := b.rooms[RoomLiveUsers]
	if len(members) == 0 {
		return
	}
	full := liveUsers(b.users, b.now())
	fullFrame, err := newFrame(EventLiveUsers, full)
	if err != nil {
		return
	}
	redacted, err := newFrame(EventLiveUsers, full.Redacted())
	if err != nil {
		return
	}
	for _, c := range members {
		if b.policy.IsAdminViewer(c.identity) {
			b.deliver(c, fullFrame)
		} else {
			b.deliver(c, redacted)
		}
	}
}
