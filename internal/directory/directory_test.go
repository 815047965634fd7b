package directory

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"tenant-locator/internal/mapapi"
)

func squareMap(id, name string, elevation float64) mapapi.Map {
	return mapapi.Map{
		ID: id, Name: name, Elevation: elevation,
		Georeference: []mapapi.GeoreferencePoint{
			{Target: mapapi.Coordinate{X: -1, Y: 1}, Control: mapapi.Coordinate{X: 0, Y: 0}},
			{Target: mapapi.Coordinate{X: 1, Y: 1}, Control: mapapi.Coordinate{X: 100, Y: 0}},
			{Target: mapapi.Coordinate{X: 1, Y: -1}, Control: mapapi.Coordinate{X: 100, Y: 100}},
		},
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuild(t *testing.T) {
	maps := []mapapi.Map{
		squareMap("m1", "Lower Level", 0),
		{ID: "m2", Elevation: 2, Georeference: []mapapi.GeoreferencePoint{
			{Target: mapapi.Coordinate{X: 0, Y: 0}, Control: mapapi.Coordinate{X: 0, Y: 0}},
		}},
	}
	locations := []mapapi.Location{
		{Name: "Bath & Body Works", ExternalID: "101", Nodes: []mapapi.NodeRef{{Node: "n1", Map: "m1"}},
			OperationHours: json.RawMessage(`[{"dayOfWeek":["Monday","Tuesday"],"opens":"10:00","closes":"21:00"}]`)},
		{Name: "H&M", ExternalID: "102", Nodes: []mapapi.NodeRef{{Node: "n2"}}},
		{Name: "Upstairs Shop", ExternalID: "201", Nodes: []mapapi.NodeRef{{Node: "n3", Map: "m2"}}},
		{Name: "Kiosk", ExternalID: "K1"},
		{Name: "Ghost", ExternalID: "G1", Nodes: []mapapi.NodeRef{{Node: "missing", Map: "m1"}}},
	}
	nodes := []mapapi.Node{
		{ID: "n1", X: 50, Y: 50, Map: "m1"},
		{ID: "n2", X: 25, Y: 75, Map: "m1"},
		{ID: "n3", X: 10, Y: 10, Map: "m2"},
	}

	tenants := Build(maps, locations, nodes)
	if len(tenants) != len(locations) {
		t.Fatalf("expected %d tenants, got %d", len(locations), len(tenants))
	}

	bbw := tenants[0]
	if bbw.FloorName != "Lower Level" || bbw.LocationID != "101" {
		t.Fatalf("unexpected tenant %+v", bbw)
	}
	if bbw.Latitude == nil || !near(*bbw.Latitude, 0) || !near(*bbw.Longitude, 0) {
		t.Fatalf("unexpected position for %s", bbw.Name)
	}
	if bbw.Hours != "Monday, Tuesday: 10:00 - 21:00" {
		t.Fatalf("unexpected hours %q", bbw.Hours)
	}

	hm := tenants[1]
	if hm.Latitude == nil || !near(*hm.Latitude, -0.5) || !near(*hm.Longitude, -0.5) {
		t.Fatalf("node map fallback not used: %+v", hm)
	}

	upstairs := tenants[2]
	if upstairs.FloorName != "Level 2" || upstairs.Latitude != nil || upstairs.Longitude != nil {
		t.Fatalf("unsolvable floor should keep nil coordinates: %+v", upstairs)
	}

	kiosk := tenants[3]
	if kiosk.FloorName != DefaultFloor || kiosk.Latitude != nil {
		t.Fatalf("node-less tenant: %+v", kiosk)
	}
	if kiosk.Hours != "Not available" {
		t.Fatalf("unexpected hours %q", kiosk.Hours)
	}

	ghost := tenants[4]
	if ghost.FloorName != "Lower Level" || ghost.Latitude != nil {
		t.Fatalf("missing node: %+v", ghost)
	}
}

func TestBuildPreservesEveryLocation(t *testing.T) {
	var locations []mapapi.Location
	for i := 0; i < 50; i++ {
		locations = append(locations, mapapi.Location{Name: "Store", ExternalID: string(rune('A' + i%26))})
	}
	tenants := Build(nil, locations, nil)
	if len(tenants) != 50 {
		t.Fatalf("expected 50 tenants, got %d", len(tenants))
	}
}

func TestFloorName(t *testing.T) {
	tests := []struct {
		m    mapapi.Map
		want string
	}{
		{mapapi.Map{Name: "Upper Level"}, "Upper Level"},
		{mapapi.Map{Elevation: 0}, "Level 1"},
		{mapapi.Map{Elevation: 1}, "Level 1"},
		{mapapi.Map{Elevation: 2.7}, "Level 2"},
		{mapapi.Map{Name: "  ", Elevation: -1}, "Level -1"},
	}
	for _, tt := range tests {
		if got := FloorName(tt.m); got != tt.want {
			t.Errorf("FloorName(%+v) = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"absent", ``, "Not available"},
		{"null", `null`, "Not available"},
		{"empty list", `[]`, "Not available"},
		{"string", `"Mon-Sat 10-9"`, "Mon-Sat 10-9"},
		{"blank string", `"  "`, "Not available"},
		{"schema days", `[{"dayOfWeek":["http://schema.org/Sunday"],"opens":"11:00","closes":"18:00"}]`, "Sunday: 11:00 - 18:00"},
		{"single day", `[{"dayOfWeek":"Friday","opens":"10:00","closes":"22:00"}]`, "Friday: 10:00 - 22:00"},
		{"multiple", `[{"dayOfWeek":["Monday"],"opens":"10:00","closes":"21:00"},{"dayOfWeek":["Sunday"],"opens":"11:00","closes":"18:00"}]`,
			"Monday: 10:00 - 21:00; Sunday: 11:00 - 18:00"},
		{"incomplete", `[{"dayOfWeek":["Monday"],"opens":"10:00"}]`, "See Description"},
		{"object", `{"text":"call"}`, "See Description"},
		{"malformed", `[{"opens":1}]`, "Contact Store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatHours(json.RawMessage(tt.raw)); got != tt.want {
				t.Fatalf("FormatHours(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	lat1, lon1 := 40.0, -74.0
	lat2, lon2 := 41.0, -73.0
	tenants := []Tenant{
		{Name: "a", Latitude: &lat1, Longitude: &lon1},
		{Name: "b"},
		{Name: "c", Latitude: &lat2, Longitude: &lon2},
	}
	b, ok := Bounds(tenants)
	if !ok {
		t.Fatal("expected bounds")
	}
	if b.Min.Lon() != -74 || b.Max.Lat() != 41 {
		t.Fatalf("unexpected bounds %v", b)
	}
	if _, ok := Bounds([]Tenant{{Name: "x"}}); ok {
		t.Fatal("expected no bounds without positions")
	}
}

func TestSaveLoad(t *testing.T) {
	lat, lon := 40.9, -74.1
	tenants := []Tenant{
		{Name: "Bath & Body Works", LocationID: "101", FloorName: "Level 1", Hours: "Not available", Latitude: &lat, Longitude: &lon},
		{Name: "Kiosk", FloorName: "Level 1"},
	}
	path := filepath.Join(t.TempDir(), "out", "directory.json")
	if err := Save(path, tenants); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Bath & Body Works" || *got[0].Latitude != lat {
		t.Fatalf("unexpected directory %+v", got)
	}
	if got[1].Latitude != nil || got[1].Longitude != nil {
		t.Fatal("nil coordinates should stay nil")
	}
}
