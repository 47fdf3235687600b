// README: Order service: create, arbitrated accept, driver-driven advance, cancel, and role-aware queries.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/geo"
	"ridecore/internal/metrics"
	"ridecore/internal/types"
)

const (
	DefaultHistoryLimit   = 100
	DefaultPassengerLimit = 50
)

type Service struct {
	store Repository
	bus   feed.Publisher
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Repository, bus feed.Publisher, log logrus.FieldLogger) *Service {
	return &Service{store: store, bus: bus, log: log.WithField("module", "order"), now: time.Now}
}

type CreateCommand struct {
	Actor   auth.Identity
	Pickup  types.Point
	Dropoff *types.Point
}

type AcceptCommand struct {
	OrderID types.ID
	Actor   auth.Identity
}

// AdvanceCommand moves a bound order forward. An empty To means the next
// status on the trip chain.
type AdvanceCommand struct {
	OrderID types.ID
	Actor   auth.Identity
	To      Status
}

type CancelCommand struct {
	OrderID types.ID
	Actor   auth.Identity
	Reason  string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := cmd.Actor.RequireRole(auth.RolePassenger); err != nil {
		return nil, err
	}
	if !cmd.Pickup.Valid() || (cmd.Dropoff != nil && !cmd.Dropoff.Valid()) {
		return nil, apperr.BadRequest("coordinates out of range")
	}
	active, err := s.store.HasActiveByPassenger(ctx, cmd.Actor.UserID)
	if err != nil {
		return nil, apperr.Underlying(err)
	}
	if active {
		return nil, ErrActiveOrder
	}

	now := s.now()
	o := &Order{
		ID:          types.ID(uuid.NewString()),
		PassengerID: cmd.Actor.UserID,
		Status:      StatusRequested,
		Pickup:      cmd.Pickup,
		Dropoff:     clonePtr(cmd.Dropoff),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, apperr.Underlying(err)
	}
	s.record(ctx, o.ID, StatusNone, StatusRequested, cmd.Actor, nil)
	s.publish(ctx)
	return o, nil
}

// Accept binds the actor to the order iff it is still requested and
// unbound. Of any number of concurrent callers exactly one succeeds.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if err := cmd.Actor.RequireRole(auth.RoleDriver); err != nil {
		return nil, err
	}
	o, ok, err := s.store.Accept(ctx, cmd.OrderID, cmd.Actor.UserID, s.now())
	if err != nil {
		metrics.AcceptOutcomes.WithLabelValues("error").Inc()
		return nil, apperr.Underlying(err)
	}
	if !ok {
		err := s.classifyLostAccept(ctx, cmd.OrderID)
		s.log.WithFields(logrus.Fields{"order_id": cmd.OrderID, "driver_id": cmd.Actor.UserID}).
			WithError(err).Info("accept rejected")
		return nil, err
	}

	metrics.AcceptOutcomes.WithLabelValues("won").Inc()
	s.record(ctx, o.ID, StatusRequested, StatusAccepted, cmd.Actor, nil)
	s.publish(ctx)
	return o, nil
}

func (s *Service) classifyLostAccept(ctx context.Context, id types.ID) error {
	cur, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.AcceptOutcomes.WithLabelValues("not_found").Inc()
		return ErrNotFound
	case err != nil:
		metrics.AcceptOutcomes.WithLabelValues("error").Inc()
		return apperr.Underlying(err)
	case cur.DriverID != nil:
		metrics.AcceptOutcomes.WithLabelValues("conflict").Inc()
		return ErrConflict
	default:
		metrics.AcceptOutcomes.WithLabelValues("not_open").Inc()
		return ErrNotOpen
	}
}

func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	if err := cmd.Actor.RequireRole(auth.RoleDriver); err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, s.wrap(err)
	}
	if !o.BoundTo(cmd.Actor.UserID) {
		return nil, apperr.Forbidden("driver is not bound to order")
	}
	to := cmd.To
	if to == "" {
		if to, err = NextStatus(o.Status); err != nil {
			return nil, err
		}
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, CancelCommand{OrderID: cmd.OrderID, Actor: cmd.Actor})
	}
	return s.transition(ctx, o, to, cmd.Actor, nil)
}

// Cancel is allowed for the owning passenger in any non-terminal state and
// for the bound driver once bound.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	if !cmd.Actor.Authenticated() {
		return nil, apperr.ErrNotAuthenticated
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, s.wrap(err)
	}
	switch cmd.Actor.Role {
	case auth.RolePassenger:
		if o.PassengerID != cmd.Actor.UserID {
			return nil, apperr.Forbidden("order belongs to another passenger")
		}
	case auth.RoleDriver:
		if !o.BoundTo(cmd.Actor.UserID) {
			return nil, apperr.Forbidden("driver is not bound to order")
		}
	}
	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}
	return s.transition(ctx, o, StatusCancelled, cmd.Actor, reason)
}

func (s *Service) transition(ctx context.Context, o *Order, to Status, actor auth.Identity, reason *string) (*Order, error) {
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	updated, ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
		OrderID:     o.ID,
		From:        o.Status,
		FromVersion: o.StatusVersion,
		To:          to,
		Reason:      reason,
		At:          s.now(),
	})
	if err != nil {
		return nil, apperr.Underlying(err)
	}
	if !ok {
		return nil, s.classifyLostTransition(ctx, o.ID, to)
	}
	s.record(ctx, o.ID, o.Status, to, actor, reason)
	s.publish(ctx)
	return updated, nil
}

// classifyLostTransition explains a failed compare-and-set: when the status moved
// somewhere that no longer permits to, the caller gets the TransitionError.
func (s *Service) classifyLostTransition(ctx context.Context, id types.ID, to Status) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return s.wrap(err)
	}
	if err := ValidateTransition(cur.Status, to); err != nil {
		return err
	}
	return ErrConflict
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	return o, s.wrap(err)
}

// ListPassengerOrders returns the passenger's orders, newest first.
func (s *Service) ListPassengerOrders(ctx context.Context, passengerID types.ID, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = DefaultPassengerLimit
	}
	out, err := s.store.ListByPassenger(ctx, passengerID, limit)
	return out, s.wrap(err)
}

// LatestPassengerOrder returns nil without error when the passenger has no orders.
func (s *Service) LatestPassengerOrder(ctx context.Context, passengerID types.ID) (*Order, error) {
	out, err := s.store.ListByPassenger(ctx, passengerID, 1)
	if err != nil || len(out) == 0 {
		return nil, s.wrap(err)
	}
	return out[0], nil
}

// ActiveDriverOrders returns the driver's non-terminal orders, newest first.
func (s *Service) ActiveDriverOrders(ctx context.Context, driverID types.ID) ([]*Order, error) {
	out, err := s.store.ListActiveByDriver(ctx, driverID)
	return out, s.wrap(err)
}

// DriverOrderHistory returns orders ever bound to the driver, newest first.
func (s *Service) DriverOrderHistory(ctx context.Context, driverID types.ID, limit int) ([]*Order, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	out, err := s.store.ListByDriver(ctx, driverID, limit)
	return out, s.wrap(err)
}

// NearbyOpen returns requested orders around center, nearest first.
func (s *Service) NearbyOpen(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !center.Valid() {
		return nil, apperr.BadRequest("center out of range")
	}
	radiusKm, limit = geo.Normalize(radiusKm, limit)
	out, err := s.store.NearbyOpen(ctx, center, radiusKm, limit)
	return out, s.wrap(err)
}

func (s *Service) record(ctx context.Context, id types.ID, from, to Status, actor auth.Identity, reason *string) {
	metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	actorID := actor.UserID
	err := s.store.AppendEvent(ctx, &Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  string(actor.Role),
		ActorID:    &actorID,
		Reason:     reason,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("order_id", id).Warn("append order event")
	}
	s.log.WithFields(logrus.Fields{
		"order_id": id,
		"from":     from,
		"to":       to,
		"actor":    actor.UserID,
	}).Info("order transition")
}

func (s *Service) publish(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, feed.TopicOrders); err != nil {
		s.log.WithError(err).Warn("publish orders change")
	}
}

func (s *Service) wrap(err error) error {
	return apperr.Underlying(err)
}
