// README: DispatchSession: per-actor view state, change-feed listeners, actions, and the driver heartbeat.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/metrics"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

const DefaultHeartbeatInterval = 3 * time.Second

type Config struct {
	HeartbeatInterval time.Duration
	RadiusKm          float64
	Limit             int
}

type Deps struct {
	Orders   Orders
	Matcher  Matcher
	Presence Presence
	Trail    Trail
	Feed     feed.Bus
	Location LocationSource
	Clock    Clock
	Log      logrus.FieldLogger
}

// Suggestion nudges a passenger to open live tracking.
type Suggestion struct {
	OrderID types.ID     `json:"order_id"`
	Status  order.Status `json:"status"`
}

// Snapshot is the observable state of one session.
type Snapshot struct {
	Identity      auth.Identity     `json:"identity"`
	OnlineDrivers []presence.Nearby `json:"online_drivers"`
	NearbyOrders  []order.Nearby    `json:"nearby_orders"`
	CurrentOrder  *order.Order      `json:"current_order"`
	TrailPoints   []location.Point  `json:"trail_points"`
	IsOnline      bool              `json:"is_online"`
	LastError     string            `json:"last_error,omitempty"`
	Suggestion    *Suggestion       `json:"suggestion,omitempty"`
}

type Session struct {
	id   auth.Identity
	deps Deps
	cfg  Config
	log  logrus.FieldLogger

	mu        sync.RWMutex
	snap      Snapshot
	suggested map[Suggestion]struct{}
	updates   chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	gctx    context.Context

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

func New(id auth.Identity, deps Deps, cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Location == nil {
		deps.Location = &StaticLocation{}
	}
	return &Session{
		id:        id,
		deps:      deps,
		cfg:       cfg,
		log:       deps.Log.WithFields(logrus.Fields{"user_id": id.UserID, "role": id.Role}),
		snap:      Snapshot{Identity: id},
		suggested: make(map[Suggestion]struct{}),
		updates:   make(chan struct{}, 1),
	}
}

func (s *Session) Identity() auth.Identity { return s.id }

func (s *Session) topics() []feed.Topic {
	if s.id.Role == auth.RoleDriver {
		return []feed.Topic{feed.TopicOrders}
	}
	return []feed.Topic{feed.TopicPresence, feed.TopicOrders, feed.TopicLocations}
}

// Start subscribes to the actor's topics, loads the initial state and, for
// a driver already online, resumes the heartbeat.
func (s *Session) Start(ctx context.Context) error {
	if !s.id.Authenticated() {
		return apperr.ErrNotAuthenticated
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started {
		return apperr.InvalidState("session already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range s.topics() {
		ch, err := s.deps.Feed.Subscribe(gctx, topic)
		if err != nil {
			cancel()
			_ = g.Wait()
			return apperr.Underlying(err)
		}
		topic := topic
		g.Go(func() error {
			for range ch {
				s.refreshTopic(gctx, topic)
			}
			return nil
		})
	}
	s.started, s.cancel, s.group, s.gctx = true, cancel, g, gctx
	metrics.ActiveSessions.Inc()

	if s.id.Role == auth.RoleDriver {
		p, err := s.deps.Presence.Get(ctx, s.id.UserID)
		if err == nil && p.IsOnline {
			s.update(func(sn *Snapshot) { sn.IsOnline = true })
			s.startHeartbeatLocked()
		}
	}
	s.Refresh(gctx)
	s.log.Info("session started")
	return nil
}

// Stop cancels every task and waits for them to return.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	if !s.started || s.stopped {
		s.lifeMu.Unlock()
		return
	}
	s.stopped = true
	cancel, g := s.cancel, s.group
	s.lifeMu.Unlock()

	cancel()
	_ = g.Wait()
	metrics.ActiveSessions.Dec()
	s.log.Info("session stopped")
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.snap
	cp.OnlineDrivers = append([]presence.Nearby(nil), s.snap.OnlineDrivers...)
	cp.NearbyOrders = append([]order.Nearby(nil), s.snap.NearbyOrders...)
	cp.TrailPoints = append([]location.Point(nil), s.snap.TrailPoints...)
	cp.CurrentOrder = s.snap.CurrentOrder.Clone()
	if s.snap.Suggestion != nil {
		sg := *s.snap.Suggestion
		cp.Suggestion = &sg
	}
	return cp
}

// Updates signals after every state change; bursts coalesce.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// TakeSuggestion returns the pending tracking suggestion once.
func (s *Session) TakeSuggestion() *Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg := s.snap.Suggestion
	s.snap.Suggestion = nil
	return sg
}

func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) fail(action string, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrConflict) && action == "accept":
		msg = "order was taken by another driver"
	case errors.Is(err, apperr.ErrOrderNotOpen):
		msg = "order is no longer open"
	}
	s.log.WithError(err).WithField("action", action).Warn("session action failed")
	s.update(func(sn *Snapshot) { sn.LastError = msg })
	return err
}

// Refresh reloads everything the actor observes.
func (s *Session) Refresh(ctx context.Context) {
	for _, topic := range s.topics() {
		s.refreshTopic(ctx, topic)
	}
}

func (s *Session) refreshTopic(ctx context.Context, topic feed.Topic) {
	var err error
	switch {
	case s.id.Role == auth.RoleDriver && topic == feed.TopicOrders:
		err = errors.Join(s.loadNearbyOrders(ctx), s.loadDriverOrder(ctx))
	case topic == feed.TopicPresence:
		err = s.loadOnlineDrivers(ctx)
	case topic == feed.TopicOrders:
		err = errors.Join(s.loadPassengerOrder(ctx), s.loadTrail(ctx))
	case topic == feed.TopicLocations:
		err = s.loadTrail(ctx)
	}
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("topic", topic).Warn("refresh failed")
	}
}

func (s *Session) loadNearbyOrders(ctx context.Context) error {
	center, ok := s.deps.Location.CurrentLocation(ctx)
	if !ok {
		return nil
	}
	nearby, err := s.deps.Matcher.NearbyOpenOrders(ctx, center, s.cfg.RadiusKm, s.cfg.Limit)
	if err != nil {
		return err
	}
	s.update(func(sn *Snapshot) { sn.NearbyOrders = nearby })
	return nil
}

func (s *Session) loadDriverOrder(ctx context.Context) error {
	active, err := s.deps.Orders.ActiveDriverOrders(ctx, s.id.UserID)
	if err != nil {
		return err
	}
	var cur *order.Order
	if len(active) > 0 {
		cur = active[0]
	}
	s.update(func(sn *Snapshot) { sn.CurrentOrder = cur })
	return nil
}

func (s *Session) loadPassengerOrder(ctx context.Context) error {
	latest, err := s.deps.Orders.LatestPassengerOrder(ctx, s.id.UserID)
	if err != nil {
		return err
	}
	s.update(func(sn *Snapshot) {
		sn.CurrentOrder = latest
		if latest == nil || (latest.Status != order.StatusArrived && latest.Status != order.StatusStarted) {
			return
		}
		sg := Suggestion{OrderID: latest.ID, Status: latest.Status}
		if _, seen := s.suggested[sg]; !seen {
			s.suggested[sg] = struct{}{}
			sn.Suggestion = &sg
		}
	})
	return nil
}

func (s *Session) loadOnlineDrivers(ctx context.Context) error {
	center, ok := s.passengerCenter(ctx)
	if !ok {
		return nil
	}
	drivers, err := s.deps.Matcher.NearbyOnlineDrivers(ctx, center, s.cfg.RadiusKm, s.cfg.Limit)
	if err != nil {
		return err
	}
	s.update(func(sn *Snapshot) { sn.OnlineDrivers = drivers })
	return nil
}

// passengerCenter is the active order's pickup, else the device location.
func (s *Session) passengerCenter(ctx context.Context) (types.Point, bool) {
	s.mu.RLock()
	cur := s.snap.CurrentOrder
	s.mu.RUnlock()
	if cur != nil && !cur.Status.Terminal() {
		return cur.Pickup, true
	}
	return s.deps.Location.CurrentLocation(ctx)
}

func (s *Session) loadTrail(ctx context.Context) error {
	s.mu.RLock()
	cur := s.snap.CurrentOrder
	s.mu.RUnlock()
	if cur == nil || (cur.Status != order.StatusStarted && cur.Status != order.StatusCompleted) {
		s.update(func(sn *Snapshot) { sn.TrailPoints = nil })
		return nil
	}
	pts, err := s.deps.Trail.ListFor(ctx, s.id, cur.ID)
	if err != nil {
		return err
	}
	s.update(func(sn *Snapshot) { sn.TrailPoints = pts })
	return nil
}

func (s *Session) currentOrder() *order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CurrentOrder.Clone()
}

func (s *Session) CreateOrder(ctx context.Context, pickup types.Point, dropoff *types.Point) (*order.Order, error) {
	o, err := s.deps.Orders.Create(ctx, order.CreateCommand{Actor: s.id, Pickup: pickup, Dropoff: dropoff})
	if err != nil {
		return nil, s.fail("create", err)
	}
	s.update(func(sn *Snapshot) {
		sn.CurrentOrder = o
		sn.TrailPoints = nil
		sn.LastError = ""
	})
	if err := s.loadOnlineDrivers(ctx); err != nil {
		s.log.WithError(err).Warn("refresh drivers after create")
	}
	return o, nil
}

// ToggleOnline reports availability and starts or stops the heartbeat.
// Going offline stops the heartbeat before the offline state is written and
// resumes it when that write fails.
func (s *Session) ToggleOnline(ctx context.Context, online bool) error {
	if err := s.id.RequireRole(auth.RoleDriver); err != nil {
		return s.fail("toggle", err)
	}
	s.mu.RLock()
	wasOnline := s.snap.IsOnline
	s.mu.RUnlock()
	if !online {
		s.stopHeartbeat()
	}
	cmd := presence.UpsertCommand{Actor: s.id, IsOnline: online}
	if loc, ok := s.deps.Location.CurrentLocation(ctx); ok {
		cmd.Location = &loc
	}
	if _, err := s.deps.Presence.Upsert(ctx, cmd); err != nil {
		// the record is still online, so keep reporting
		if !online && wasOnline {
			s.lifeMu.Lock()
			s.startHeartbeatLocked()
			s.lifeMu.Unlock()
		}
		return s.fail("toggle", err)
	}
	s.update(func(sn *Snapshot) {
		sn.IsOnline = online
		sn.LastError = ""
	})
	if online {
		s.lifeMu.Lock()
		s.startHeartbeatLocked()
		s.lifeMu.Unlock()
	}
	return nil
}

func (s *Session) AcceptOrder(ctx context.Context, orderID types.ID) (*order.Order, error) {
	o, err := s.deps.Orders.Accept(ctx, order.AcceptCommand{OrderID: orderID, Actor: s.id})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrOrderNotOpen) {
			if rerr := s.loadNearbyOrders(ctx); rerr != nil {
				s.log.WithError(rerr).Warn("refresh nearby after lost accept")
			}
		}
		return nil, s.fail("accept", err)
	}
	s.update(func(sn *Snapshot) {
		sn.CurrentOrder = o
		sn.LastError = ""
	})
	if err := s.loadNearbyOrders(ctx); err != nil {
		s.log.WithError(err).Warn("refresh nearby after accept")
	}
	return o, nil
}

// AdvanceStatus moves the current order one step forward.
func (s *Session) AdvanceStatus(ctx context.Context) (*order.Order, error) {
	cur := s.currentOrder()
	if cur == nil {
		return nil, s.fail("advance", apperr.InvalidState("no current order"))
	}
	o, err := s.deps.Orders.Advance(ctx, order.AdvanceCommand{OrderID: cur.ID, Actor: s.id})
	if err != nil {
		return nil, s.fail("advance", err)
	}
	s.update(func(sn *Snapshot) {
		sn.CurrentOrder = o
		sn.LastError = ""
	})
	return o, nil
}

func (s *Session) CancelOrder(ctx context.Context, reason string) (*order.Order, error) {
	cur := s.currentOrder()
	if cur == nil {
		return nil, s.fail("cancel", apperr.InvalidState("no current order"))
	}
	o, err := s.deps.Orders.Cancel(ctx, order.CancelCommand{OrderID: cur.ID, Actor: s.id, Reason: reason})
	if err != nil {
		return nil, s.fail("cancel", err)
	}
	s.update(func(sn *Snapshot) {
		sn.CurrentOrder = o
		if s.id.Role == auth.RoleDriver {
			sn.CurrentOrder = nil
		}
		sn.LastError = ""
	})
	return o, nil
}

// startHeartbeatLocked requires lifeMu. It is a no-op outside Start..Stop.
func (s *Session) startHeartbeatLocked() {
	if !s.started || s.stopped {
		return
	}
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.hbCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.gctx)
	done := make(chan struct{})
	s.hbCancel, s.hbDone = cancel, done
	ticker := s.deps.Clock.NewTicker(s.cfg.HeartbeatInterval)
	s.group.Go(func() error {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C():
				// a tick racing with the stop signal must not write
				if ctx.Err() != nil {
					return nil
				}
				s.beat(ctx)
			}
		}
	})
}

// stopHeartbeat signals the loop and waits for it to exit.
func (s *Session) stopHeartbeat() {
	s.hbMu.Lock()
	cancel, done := s.hbCancel, s.hbDone
	s.hbCancel, s.hbDone = nil, nil
	s.hbMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) beat(ctx context.Context) {
	loc, ok := s.deps.Location.CurrentLocation(ctx)
	if !ok {
		return
	}
	if _, err := s.deps.Presence.Upsert(ctx, presence.UpsertCommand{Actor: s.id, IsOnline: true, Location: &loc}); err != nil {
		s.beatFailed("presence", err)
	}
	cur := s.currentOrder()
	if cur == nil || cur.Status != order.StatusStarted || !cur.BoundTo(s.id.UserID) {
		return
	}
	if _, err := s.deps.Trail.Append(ctx, location.AppendCommand{
		Actor:      s.id,
		OrderID:    cur.ID,
		Position:   loc,
		RecordedAt: s.deps.Clock.Now(),
	}); err != nil {
		s.beatFailed("trail", err)
	}
}

func (s *Session) beatFailed(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.HeartbeatFailures.Inc()
	s.log.WithError(err).WithField("step", what).Warn("heartbeat step failed, retrying next tick")
}
