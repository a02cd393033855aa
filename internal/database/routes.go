package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const routeColumns = `id, name, driver_id, created_at, updated_at`

func scanRoute(row interface{ Scan(...interface{}) error }) (Route, error) {
	var r Route
	err := row.Scan(&r.ID, &r.Name, &r.DriverID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) GetRoute(ctx context.Context, id uuid.UUID) (Route, error) {
	row := q.db.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id)
	return scanRoute(row)
}

func (q *Queries) GetRouteByDriver(ctx context.Context, driverID uuid.UUID) (Route, error) {
	row := q.db.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE driver_id = $1`, driverID)
	return scanRoute(row)
}

type CreateRouteParams struct {
	Name     string
	DriverID pgtype.UUID
}

func (q *Queries) CreateRoute(ctx context.Context, arg CreateRouteParams) (Route, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO routes (name, driver_id)
		VALUES ($1, $2)
		RETURNING `+routeColumns,
		arg.Name, arg.DriverID)
	return scanRoute(row)
}

type ListRouteCustomersRow struct {
	CustomerID   uuid.UUID
	CustomerName string
	Phone        string
	Position     int32
}

// ListRouteCustomers returns the route's customers in delivery order.
func (q *Queries) ListRouteCustomers(ctx context.Context, routeID uuid.UUID) ([]ListRouteCustomersRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT rc.customer_id, c.name, c.phone, rc.position
		FROM route_customers rc
		JOIN customers c ON c.id = rc.customer_id
		WHERE rc.route_id = $1
		ORDER BY rc.position`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ListRouteCustomersRow
	for rows.Next() {
		var row ListRouteCustomersRow
		if err := rows.Scan(&row.CustomerID, &row.CustomerName, &row.Phone, &row.Position); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetRouteCustomerIDs returns just the ordered customer IDs of a route.
func (q *Queries) GetRouteCustomerIDs(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT customer_id FROM route_customers
		WHERE route_id = $1
		ORDER BY position`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type AppendRouteCustomerParams struct {
	RouteID    uuid.UUID
	CustomerID uuid.UUID
	Position   int32
}

func (q *Queries) AppendRouteCustomer(ctx context.Context, arg AppendRouteCustomerParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO route_customers (route_id, customer_id, position)
		VALUES ($1, $2, $3)`,
		arg.RouteID, arg.CustomerID, arg.Position)
	return err
}

type RemoveRouteCustomerParams struct {
	RouteID    uuid.UUID
	CustomerID uuid.UUID
}

func (q *Queries) RemoveRouteCustomer(ctx context.Context, arg RemoveRouteCustomerParams) (uuid.UUID, error) {
	row := q.db.QueryRow(ctx, `
		DELETE FROM route_customers
		WHERE route_id = $1 AND customer_id = $2
		RETURNING customer_id`,
		arg.RouteID, arg.CustomerID)
	var out uuid.UUID
	err := row.Scan(&out)
	return out, err
}

type UpdateRouteOrderParams struct {
	RouteID     uuid.UUID
	CustomerIds []uuid.UUID
}

// UpdateRouteOrder rewrites every position of a route in one statement,
// so a reorder is atomic without an explicit transaction.
func (q *Queries) UpdateRouteOrder(ctx context.Context, arg UpdateRouteOrderParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE route_customers rc
		SET position = x.position
		FROM (
			SELECT unnest($2::uuid[]) AS customer_id,
			       generate_subscripts($2::uuid[], 1) - 1 AS position
		) x
		WHERE rc.route_id = $1 AND rc.customer_id = x.customer_id`,
		arg.RouteID, arg.CustomerIds)
	return err
}

// CompactRoutePositions renumbers a route's positions to a dense 0-based
// sequence, preserving relative order. Called after a removal.
func (q *Queries) CompactRoutePositions(ctx context.Context, routeID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE route_customers rc
		SET position = x.new_position
		FROM (
			SELECT customer_id,
			       row_number() OVER (ORDER BY position) - 1 AS new_position
			FROM route_customers
			WHERE route_id = $1
		) x
		WHERE rc.route_id = $1 AND rc.customer_id = x.customer_id`, routeID)
	return err
}
