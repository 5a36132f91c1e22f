package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresCatalog reads the catalog from these tables:
//
//	cities(id, name, center_lat, center_lng)
//	routes(id, city_id, name)
//	route_stops(route_id, seq, name, lat, lng, scheduled_time)
//	route_vehicles(route_id, seq, vehicle_id)
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// WithDBName returns a DSN identical to the input but with the database path replaced.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

func (c *PostgresCatalog) ListCities(ctx context.Context) ([]City, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, center_lat, center_lng FROM cities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer rows.Close()
	var cities []City
	for rows.Next() {
		var ct City
		if err := rows.Scan(&ct.ID, &ct.Name, &ct.Center.Lat, &ct.Center.Lng); err != nil {
			return nil, err
		}
		cities = append(cities, ct)
	}
	return cities, rows.Err()
}

func (c *PostgresCatalog) ListRoutes(ctx context.Context, cityID string) ([]Route, error) {
	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cities WHERE id = $1)`, cityID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("query city: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCityNotFound, cityID)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id, name FROM routes WHERE city_id = $1 ORDER BY id`, cityID)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()
	var routes []Route
	index := make(map[string]int)
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		index[r.ID] = len(routes)
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return routes, nil
	}
	if err := c.fetchStops(ctx, cityID, routes, index); err != nil {
		return nil, err
	}
	if err := c.fetchVehicles(ctx, cityID, routes, index); err != nil {
		return nil, err
	}
	return routes, nil
}

func (c *PostgresCatalog) fetchStops(ctx context.Context, cityID string, routes []Route, index map[string]int) error {
	q := `
SELECT s.route_id, s.name, s.lat, s.lng, COALESCE(s.scheduled_time, '')
FROM route_stops s
JOIN routes r ON r.id = s.route_id
WHERE r.city_id = $1
ORDER BY s.route_id, s.seq`
	rows, err := c.db.QueryContext(ctx, q, cityID)
	if err != nil {
		return fmt.Errorf("query route_stops: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var routeID string
		var s Stop
		if err := rows.Scan(&routeID, &s.Name, &s.Position.Lat, &s.Position.Lng, &s.ScheduledTime); err != nil {
			return err
		}
		if i, ok := index[routeID]; ok {
			routes[i].Stops = append(routes[i].Stops, s)
		}
	}
	return rows.Err()
}

func (c *PostgresCatalog) fetchVehicles(ctx context.Context, cityID string, routes []Route, index map[string]int) error {
	q := `
SELECT v.route_id, v.vehicle_id
FROM route_vehicles v
JOIN routes r ON r.id = v.route_id
WHERE r.city_id = $1
ORDER BY v.route_id, v.seq`
	rows, err := c.db.QueryContext(ctx, q, cityID)
	if err != nil {
		return fmt.Errorf("query route_vehicles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var routeID, vehicleID string
		if err := rows.Scan(&routeID, &vehicleID); err != nil {
			return err
		}
		if i, ok := index[routeID]; ok {
			routes[i].VehicleIDs = append(routes[i].VehicleIDs, vehicleID)
		}
	}
	return rows.Err()
}
