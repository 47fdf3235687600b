// README: Location trail store backed by Postgres; the insert is guarded by the order row.
package location

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, p Point) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO order_locations (id, order_id, driver_id, lat, lng, recorded_at)
		SELECT $1, o.id, $3, $4, $5, $6
		FROM orders o
		WHERE o.id = $2 AND o.driver_id = $3 AND o.status = 'started'`,
		string(p.ID),
		string(p.OrderID),
		string(p.DriverID),
		p.Position.Lat,
		p.Position.Lng,
		p.RecordedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) List(ctx context.Context, orderID types.ID) ([]Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, driver_id, lat, lng, recorded_at
		FROM order_locations
		WHERE order_id = $1
		ORDER BY recorded_at ASC, id ASC`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.OrderID, &p.DriverID, &p.Position.Lat, &p.Position.Lng, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
