// README: Order store backed by PostgreSQL; conditional updates enforce the state flow at the storage boundary.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/apperr"
	"ridecore/internal/geo"
	"ridecore/internal/types"
)

const uniqueViolation = "23505"

const orderColumns = `
	id, passenger_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	created_at, updated_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at, cancel_reason`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, o *Order) error {
	var dLat, dLng *float64
	if o.Dropoff != nil {
		dLat, dLng = &o.Dropoff.Lat, &o.Dropoff.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, passenger_id, driver_id, status, status_version,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)`,
		string(o.ID),
		string(o.PassengerID),
		toStringPtr(o.DriverID),
		string(o.Status),
		o.StatusVersion,
		o.Pickup.Lat, o.Pickup.Lng,
		dLat, dLng,
		o.CreatedAt,
		o.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// orders_one_active_per_passenger
		return ErrActiveOrder
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) Accept(ctx context.Context, id, driverID types.ID, at time.Time) (*Order, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET driver_id = $2,
			status = 'accepted',
			status_version = status_version + 1,
			accepted_at = $3,
			updated_at = $3
		WHERE id = $1 AND status = 'requested' AND driver_id IS NULL
		RETURNING `+orderColumns,
		string(id), string(driverID), at,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) (*Order, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			updated_at = $4,
			driver_id = CASE WHEN $1 = 'cancelled' THEN NULL ELSE driver_id END,
			arrived_at = CASE WHEN $1 = 'arrived' THEN $4 ELSE arrived_at END,
			started_at = CASE WHEN $1 = 'started' THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $4 ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $4 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $1 = 'cancelled' THEN $5 ELSE cancel_reason END
		WHERE id = $2 AND status = $3 AND status_version = $6
		RETURNING `+orderColumns,
		string(u.To),
		string(u.OrderID),
		string(u.From),
		u.At,
		u.Reason,
		u.FromVersion,
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *Store) HasActiveByPassenger(ctx context.Context, passengerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE passenger_id = $1
			  AND status IN ('requested','accepted','arrived','started')
		)`, string(passengerID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(passengerID), limit)
}

func (s *Store) ListActiveByDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE driver_id = $1
		  AND status NOT IN ('completed','cancelled')
		ORDER BY created_at DESC`, string(driverID))
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error) {
	// cancelled orders lose their driver binding, so history holds accepted..completed
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(driverID), limit)
}

func (s *Store) NearbyOpen(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(center, radiusKm)
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`, distance_km FROM (
			SELECT *, 2 * 6371.0 * asin(sqrt(
				power(sin(radians(pickup_lat - $1) / 2), 2) +
				cos(radians($1)) * cos(radians(pickup_lat)) * power(sin(radians(pickup_lng - $2) / 2), 2)
			)) AS distance_km
			FROM orders
			WHERE status = 'requested'
			  AND pickup_lat BETWEEN $3 AND $4
			  AND pickup_lng BETWEEN $5 AND $6
		) c
		WHERE distance_km <= $7
		ORDER BY distance_km ASC, created_at ASC, id ASC
		LIMIT $8`,
		center.Lat, center.Lng, minLat, maxLat, minLng, maxLng, radiusKm, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Nearby
	for rows.Next() {
		var n Nearby
		o, err := scanOrder(rows, &n.DistanceKm)
		if err != nil {
			return nil, err
		}
		n.Order = o
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row, extra ...any) (*Order, error) {
	var o Order
	var driverID *string
	var dLat, dLng *float64
	var status string

	dest := []any{
		&o.ID, &o.PassengerID, &driverID, &status, &o.StatusVersion,
		&o.Pickup.Lat, &o.Pickup.Lng, &dLat, &dLng,
		&o.CreatedAt, &o.UpdatedAt, &o.AcceptedAt, &o.ArrivedAt, &o.StartedAt, &o.CompletedAt, &o.CancelledAt, &o.CancelReason,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	o.Status = Status(status)
	if !o.Status.Valid() {
		return nil, apperr.Decode(errors.New("unknown order status " + status))
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	if dLat != nil && dLng != nil {
		o.Dropoff = &types.Point{Lat: *dLat, Lng: *dLng}
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
