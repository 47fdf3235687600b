// README: Location service: bound-driver trail appends while started, ordered replay for both parties.
package location

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/modules/order"
	"ridecore/internal/types"
)

type OrderReader interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

type Service struct {
	store  Repository
	orders OrderReader
	bus    feed.Publisher
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(store Repository, orders OrderReader, bus feed.Publisher, log logrus.FieldLogger) *Service {
	return &Service{store: store, orders: orders, bus: bus, log: log.WithField("module", "location"), now: time.Now}
}

type AppendCommand struct {
	Actor      auth.Identity
	OrderID    types.ID
	Position   types.Point
	RecordedAt time.Time
}

func (s *Service) Append(ctx context.Context, cmd AppendCommand) (*Point, error) {
	if !cmd.Actor.Authenticated() {
		return nil, apperr.ErrNotAuthenticated
	}
	if !cmd.Position.Valid() {
		return nil, apperr.BadRequest("position out of range")
	}
	if err := s.authorize(ctx, cmd.Actor, cmd.OrderID); err != nil {
		return nil, err
	}

	p := Point{
		ID:         types.ID(uuid.NewString()),
		OrderID:    cmd.OrderID,
		DriverID:   cmd.Actor.UserID,
		Position:   cmd.Position,
		RecordedAt: cmd.RecordedAt,
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = s.now()
	}
	ok, err := s.store.Append(ctx, p)
	if err != nil {
		return nil, apperr.Underlying(err)
	}
	if !ok {
		// the order moved between the check and the guarded insert
		if err := s.authorize(ctx, cmd.Actor, cmd.OrderID); err != nil {
			return nil, err
		}
		return nil, ErrNotStarted
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, feed.TopicLocations); err != nil {
			s.log.WithError(err).Warn("publish locations change")
		}
	}
	return &p, nil
}

func (s *Service) authorize(ctx context.Context, actor auth.Identity, orderID types.ID) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if actor.Role != auth.RoleDriver || !o.BoundTo(actor.UserID) {
		return ErrForbidden
	}
	if o.Status != order.StatusStarted {
		return ErrNotStarted
	}
	return nil
}

// List returns the trail ascending by RecordedAt.
func (s *Service) List(ctx context.Context, orderID types.ID) ([]Point, error) {
	out, err := s.store.List(ctx, orderID)
	return out, apperr.Underlying(err)
}

// ListFor returns the trail to the order's passenger or bound driver.
func (s *Service) ListFor(ctx context.Context, actor auth.Identity, orderID types.ID) ([]Point, error) {
	if !actor.Authenticated() {
		return nil, apperr.ErrNotAuthenticated
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PassengerID != actor.UserID && !o.BoundTo(actor.UserID) {
		return nil, apperr.Forbidden("order belongs to other users")
	}
	return s.List(ctx, orderID)
}
