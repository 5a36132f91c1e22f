package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-relay/internal/geo"
)

// FileCatalog serves cities and routes from a YAML document loaded once.
type FileCatalog struct {
	cities []City
	routes map[string][]Route // cityID -> routes
}

type fileDocument struct {
	Cities []fileCity `yaml:"cities" validate:"dive"`
}

type fileCity struct {
	City   `yaml:",inline"`
	Routes []Route `yaml:"routes" validate:"dive"`
}

// LoadFile reads and validates the catalog at path.
func LoadFile(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a FileCatalog from YAML bytes.
func Parse(data []byte) (*FileCatalog, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	v := validator.New()
	if err := v.Struct(doc); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	fc := &FileCatalog{routes: make(map[string][]Route, len(doc.Cities))}
	for _, c := range doc.Cities {
		if _, dup := fc.routes[c.ID]; dup {
			return nil, fmt.Errorf("validate catalog: duplicate city %q", c.ID)
		}
		for _, r := range c.Routes {
			for _, s := range r.Stops {
				if s.ScheduledTime == "" {
					continue
				}
				if _, err := geo.ParseScheduledTime(s.ScheduledTime, time.Time{}); err != nil {
					return nil, fmt.Errorf("validate catalog: route %s stop %q: %w", r.ID, s.Name, err)
				}
			}
		}
		fc.cities = append(fc.cities, c.City)
		fc.routes[c.ID] = c.Routes
	}
	return fc, nil
}

func (fc *FileCatalog) ListCities(ctx context.Context) ([]City, error) {
	return append([]City(nil), fc.cities...), nil
}

func (fc *FileCatalog) ListRoutes(ctx context.Context, cityID string) ([]Route, error) {
	routes, ok := fc.routes[cityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCityNotFound, cityID)
	}
	out := make([]Route, len(routes))
	for i, r := range routes {
		out[i] = r.clone()
	}
	return out, nil
}

func (r Route) clone() Route {
	r.Stops = append([]Stop(nil), r.Stops...)
	r.VehicleIDs = append([]string(nil), r.VehicleIDs...)
	return r
}
