package mapapi

import "encoding/json"

// Coordinate is an x/y pair as encoded by the mapping service.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeoreferencePoint ties a geographic coordinate (Target: x = longitude,
// y = latitude) to a pixel on the map image (Control).
type GeoreferencePoint struct {
	Target  Coordinate `json:"target"`
	Control Coordinate `json:"control"`
}

// Map is one floor of a venue.
type Map struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ShortName    string              `json:"shortName"`
	Elevation    float64             `json:"elevation"`
	Georeference []GeoreferencePoint `json:"georeference"`
}

// NodeRef links a location to a node on a map.
type NodeRef struct {
	Node string `json:"node"`
	Map  string `json:"map"`
}

// Location is a tenant, amenity or other named area.
type Location struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ExternalID  string    `json:"externalId"`
	Type        string    `json:"type"`
	Nodes       []NodeRef `json:"nodes"`

	// OperationHours is either a list of {dayOfWeek, opens, closes} entries
	// or a free-form string, depending on the venue.
	OperationHours json.RawMessage `json:"operationHours,omitempty"`
}

// Node is a point in a map's pixel space.
type Node struct {
	ID  string  `json:"id"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Map string  `json:"map"`
}

// Venue is the result of a full fetch. Void locations are already excluded.
type Venue struct {
	ID        string     `json:"id"`
	Maps      []Map      `json:"maps"`
	Locations []Location `json:"locations"`
	Nodes     []Node     `json:"nodes"`
}
