package database

import (
	"context"

	"github.com/google/uuid"
)

const driverColumns = `id, name, phone, is_active, created_at, updated_at`

func scanDriver(row interface{ Scan(...interface{}) error }) (Driver, error) {
	var d Driver
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (q *Queries) GetDriver(ctx context.Context, id uuid.UUID) (Driver, error) {
	row := q.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1 AND is_active = true`, id)
	return scanDriver(row)
}

func (q *Queries) ListDrivers(ctx context.Context) ([]Driver, error) {
	rows, err := q.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE is_active = true ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

type CreateDriverParams struct {
	Name  string
	Phone string
}

func (q *Queries) CreateDriver(ctx context.Context, arg CreateDriverParams) (Driver, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO drivers (name, phone)
		VALUES ($1, $2)
		RETURNING `+driverColumns,
		arg.Name, arg.Phone)
	return scanDriver(row)
}
