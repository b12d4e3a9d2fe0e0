// Package kb holds the catalog of named stations and bodies a run refers to.
package kb

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/halo-visibility/model"
)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("already registered")
	// ErrNotFound is returned for names the catalog does not hold.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for entries that fail validation.
	ErrInvalid = errors.New("invalid catalog entry")
)

// Catalog is an in-memory, thread-safe registry. Stations keep their
// registration order, which fixes their flag slots.
type Catalog struct {
	mu sync.RWMutex

	stations     map[string]model.GroundStation
	stationOrder []string
	bodies       map[string]model.Body
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		stations: make(map[string]model.GroundStation),
		bodies:   make(map[string]model.Body),
	}
}

// AddStation registers s. It returns an error if the name already exists or
// the coordinates are out of range.
func (c *Catalog) AddStation(s model.GroundStation) error {
	if s.Name == "" {
		return fmt.Errorf("%w: station name is empty", ErrInvalid)
	}
	if math.Abs(s.LatDeg) > 90 || math.Abs(s.LonDeg) > 360 || math.IsNaN(s.LatDeg) || math.IsNaN(s.LonDeg) {
		return fmt.Errorf("%w: station %q at lat=%v lon=%v", ErrInvalid, s.Name, s.LatDeg, s.LonDeg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.stations[s.Name]; exists {
		return fmt.Errorf("station %q: %w", s.Name, ErrDuplicate)
	}
	c.stations[s.Name] = s
	c.stationOrder = append(c.stationOrder, s.Name)
	return nil
}

// AddBody registers b. Radii must be positive.
func (c *Catalog) AddBody(b model.Body) error {
	if b.Name == "" {
		return fmt.Errorf("%w: body name is empty", ErrInvalid)
	}
	if !(b.RadiusKm > 0) {
		return fmt.Errorf("%w: body %q radius %v", ErrInvalid, b.Name, b.RadiusKm)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.bodies[b.Name]; exists {
		return fmt.Errorf("body %q: %w", b.Name, ErrDuplicate)
	}
	c.bodies[b.Name] = b
	return nil
}

// Station returns the station registered under name.
func (c *Catalog) Station(name string) (model.GroundStation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stations[name]
	if !ok {
		return model.GroundStation{}, fmt.Errorf("station %q: %w", name, ErrNotFound)
	}
	return s, nil
}

// Body returns the body registered under name.
func (c *Catalog) Body(name string) (model.Body, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bodies[name]
	if !ok {
		return model.Body{}, fmt.Errorf("body %q: %w", name, ErrNotFound)
	}
	return b, nil
}

// Stations returns a snapshot of all stations in registration order.
func (c *Catalog) Stations() []model.GroundStation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.GroundStation, 0, len(c.stationOrder))
	for _, name := range c.stationOrder {
		res = append(res, c.stations[name])
	}
	return res
}

// StationNames returns the station names in registration order.
func (c *Catalog) StationNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.stationOrder...)
}
