// Package directory builds the tenant directory of a venue from the mapping
// service's maps, locations and nodes.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tenant-locator/internal/mapapi"
	"tenant-locator/internal/transform"

	"github.com/paulmach/orb"
)

// DefaultFloor is used when a location cannot be tied to a map.
const DefaultFloor = "Level 1"

// Tenant is one entry of the directory. Latitude and Longitude are nil when
// the tenant has no resolvable map node or its floor has no solvable transform.
type Tenant struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	LocationID  string   `json:"location_id"`
	FloorName   string   `json:"floor_name"`
	Hours       string   `json:"hours"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Geo returns the tenant's geographic position, if known.
func (t Tenant) Geo() (orb.Point, bool) {
	if t.Latitude == nil || t.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*t.Longitude, *t.Latitude}, true
}

// Floor is one level of the venue with its control points and, when they
// are usable, the solved geo->pixel transform.
type Floor struct {
	ID            string
	Name          string
	Elevation     float64
	ControlPoints []transform.ControlPoint
	Transform     *transform.Transform // nil when unsolvable
}

// FloorName returns the display name of a map: its name, or "Level N"
// derived from the elevation (elevation 0 is "Level 1").
func FloorName(m mapapi.Map) string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	level := int(m.Elevation)
	if level == 0 {
		level = 1
	}
	return fmt.Sprintf("Level %d", level)
}

// ControlPoints converts a map's georeference into control points.
func ControlPoints(m mapapi.Map) []transform.ControlPoint {
	points := make([]transform.ControlPoint, 0, len(m.Georeference))
	for _, g := range m.Georeference {
		points = append(points, transform.ControlPoint{
			Lon: g.Target.X,
			Lat: g.Target.Y,
			X:   g.Control.X,
			Y:   g.Control.Y,
		})
	}
	return points
}

// Builder turns raw venue resources into tenants.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger uses slog.Default().
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build is NewBuilder(nil).Build.
func Build(maps []mapapi.Map, locations []mapapi.Location, nodes []mapapi.Node) []Tenant {
	return NewBuilder(nil).Build(maps, locations, nodes)
}

// Floors solves a transform for every map. Floors whose control points are
// unusable keep a nil Transform.
func (b *Builder) Floors(maps []mapapi.Map) map[string]*Floor {
	floors := make(map[string]*Floor, len(maps))
	for _, m := range maps {
		f := &Floor{
			ID:            m.ID,
			Name:          FloorName(m),
			Elevation:     m.Elevation,
			ControlPoints: ControlPoints(m),
		}
		t, err := transform.Solve(f.ControlPoints)
		switch {
		case err == nil:
			f.Transform = t
		case errors.Is(err, transform.ErrUnsolvable):
			b.logger.Warn("floor has no usable georeference", "map", m.ID, "floor", f.Name, "err", err)
		default:
			b.logger.Error("floor transform failed", "map", m.ID, "err", err)
		}
		floors[m.ID] = f
	}
	return floors
}

// Build creates exactly one tenant per location. Locations without nodes, or
// whose floor cannot be georeferenced, are kept with nil coordinates.
func (b *Builder) Build(maps []mapapi.Map, locations []mapapi.Location, nodes []mapapi.Node) []Tenant {
	floors := b.Floors(maps)
	nodeByID := make(map[string]mapapi.Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	tenants := make([]Tenant, 0, len(locations))
	located := 0
	for _, loc := range locations {
		t := Tenant{
			Name:        loc.Name,
			Description: strings.TrimSpace(strings.ReplaceAll(loc.Description, "\r\n", " ")),
			LocationID:  loc.ExternalID,
			FloorName:   DefaultFloor,
			Hours:       FormatHours(loc.OperationHours),
		}
		if t.Name == "" {
			t.Name = "Unknown"
		}

		if len(loc.Nodes) > 0 {
			ref := loc.Nodes[0]
			node, hasNode := nodeByID[ref.Node]
			mapID := ref.Map
			if mapID == "" && hasNode {
				mapID = node.Map
			}

			if f, ok := floors[mapID]; ok {
				t.FloorName = f.Name
				if hasNode && f.Transform != nil {
					if geo, ok := f.Transform.Unproject(node.X, node.Y); ok {
						lat, lon := geo.Lat(), geo.Lon()
						t.Latitude, t.Longitude = &lat, &lon
						located++
					}
				}
			}
		}
		tenants = append(tenants, t)
	}

	b.logger.Info("directory built", "tenants", len(tenants), "located", located, "floors", len(floors))
	return tenants
}

// Bounds returns the geographic extent of the located tenants.
func Bounds(tenants []Tenant) (orb.Bound, bool) {
	var mp orb.MultiPoint
	for _, t := range tenants {
		if p, ok := t.Geo(); ok {
			mp = append(mp, p)
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}
