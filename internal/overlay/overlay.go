// Package overlay marks tenants that are missing from a map screenshot.
package overlay

import (
	"image"
	"log/slog"
	"math"

	"tenant-locator/internal/match"
	"tenant-locator/internal/transform"
	"tenant-locator/pkg/colorutil"
	"tenant-locator/pkg/geometry"

	"github.com/disintegration/imaging"
)

// DefaultFloorScore is the score a Found result needs to vote for the floor
// shown in a screenshot.
const DefaultFloorScore = 0.8

// DetectFloor returns the floor named most often among Found results scoring
// above minScore. Ties go to the floor seen first.
func DetectFloor(results []match.Result, minScore float64) (string, bool) {
	counts := make(map[string]int)
	var order []string
	for _, r := range results {
		if r.Status != match.Found || r.Score <= minScore {
			continue
		}
		if counts[r.Tenant.FloorName] == 0 {
			order = append(order, r.Tenant.FloorName)
		}
		counts[r.Tenant.FloorName]++
	}

	best, bestCount := "", 0
	for _, f := range order {
		if counts[f] > bestCount {
			best, bestCount = f, counts[f]
		}
	}
	return best, bestCount > 0
}

// ControlPoints pairs the geographic position of every Found tenant on floor
// with the centre of its text in the screenshot.
func ControlPoints(results []match.Result, floor string) []transform.ControlPoint {
	var points []transform.ControlPoint
	for _, r := range results {
		if r.Status != match.Found || r.BBox == nil || r.Tenant.FloorName != floor {
			continue
		}
		geo, ok := r.Tenant.Geo()
		if !ok {
			continue
		}
		c := r.BBox.Center()
		points = append(points, transform.ControlPoint{Lon: geo.Lon(), Lat: geo.Lat(), X: c.X, Y: c.Y})
	}
	return points
}

// Options control marker and label geometry.
type Options struct {
	Margin      int // markers closer than this to the border are skipped
	Gap         int // distance between marker and label
	Padding     int // label padding around the text
	OuterRadius int
	InnerRadius int
}

// DefaultOptions returns the standard marker style.
func DefaultOptions() Options {
	return Options{Margin: 20, Gap: 8, Padding: 4, OuterRadius: 6, InnerRadius: 4}
}

// Marker is one annotated tenant. Label is nil when no free slot was found.
type Marker struct {
	Name  string           `json:"name"`
	Point geometry.Point2D `json:"point"`
	Label *geometry.Rect   `json:"label,omitempty"`
}

// Report lists what Render drew and what it skipped.
type Report struct {
	Markers []Marker `json:"markers"`
	Skipped []string `json:"skipped"`
}

// Renderer annotates screenshots.
type Renderer struct {
	opts   Options
	logger *slog.Logger
}

// NewRenderer creates a Renderer. Zero distances are kept; radii that are
// unset fall back to DefaultOptions. A nil logger uses slog.Default().
func NewRenderer(opts Options, logger *slog.Logger) *Renderer {
	def := DefaultOptions()
	if opts.OuterRadius <= 0 {
		opts.OuterRadius = def.OuterRadius
	}
	if opts.InnerRadius <= 0 || opts.InnerRadius > opts.OuterRadius {
		opts.InnerRadius = min(def.InnerRadius, opts.OuterRadius)
	}
	opts.Margin = max(opts.Margin, 0)
	opts.Gap = max(opts.Gap, 0)
	opts.Padding = max(opts.Padding, 0)
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{opts: opts, logger: logger}
}

// Render returns a copy of img with a dot and, where it fits, a label for
// every Missing tenant on floor. Labels never overlap each other, markers or
// the text of Found tenants, and always lie inside the image.
func (r *Renderer) Render(img image.Image, results []match.Result, t *transform.Transform, floor string) (*image.NRGBA, Report) {
	out := imaging.Clone(img)
	var report Report
	if t == nil {
		return out, report
	}

	bounds := out.Bounds()
	frame := geometry.NewRect(float64(bounds.Min.X), float64(bounds.Min.Y), float64(bounds.Dx()), float64(bounds.Dy()))

	var occupied []geometry.Rect
	for _, res := range results {
		if res.Status == match.Found && res.BBox != nil {
			occupied = append(occupied, res.BBox.Bounds())
		}
	}

	margin := float64(r.opts.Margin)
	for _, res := range results {
		if res.Status != match.Missing || res.Tenant.FloorName != floor {
			continue
		}
		geo, ok := res.Tenant.Geo()
		if !ok {
			continue
		}
		p, ok := t.ProjectPoint(geo)
		if !ok || p.X < frame.X+margin || p.Y < frame.Y+margin ||
			p.X > frame.X+frame.Width-margin || p.Y > frame.Y+frame.Height-margin {
			report.Skipped = append(report.Skipped, res.Tenant.Name)
			continue
		}

		cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
		fillCircle(out, cx, cy, r.opts.OuterRadius, colorutil.White)
		fillCircle(out, cx, cy, r.opts.InnerRadius, colorutil.MissingRed)

		m := Marker{Name: res.Tenant.Name, Point: geometry.NewPoint2D(float64(cx), float64(cy))}
		if rect, ok := r.place(res.Tenant.Name, m.Point, frame, occupied); ok {
			r.drawLabel(out, rect, res.Tenant.Name)
			occupied = append(occupied, rect)
			m.Label = &rect
		}
		rad := float64(r.opts.OuterRadius)
		occupied = append(occupied, geometry.NewRect(m.Point.X-rad, m.Point.Y-rad, 2*rad, 2*rad))
		report.Markers = append(report.Markers, m)
	}

	r.logger.Info("overlay rendered", "floor", floor, "markers", len(report.Markers), "skipped", len(report.Skipped))
	return out, report
}

// place tries the label slots around p in order: top-right, bottom-right,
// top-left, bottom-left, above, below.
func (r *Renderer) place(text string, p geometry.Point2D, frame geometry.Rect, occupied []geometry.Rect) (geometry.Rect, bool) {
	tw, th := textSize(text)
	w := float64(tw + 2*r.opts.Padding)
	h := float64(th + 2*r.opts.Padding)
	g := float64(r.opts.Gap)

	slots := []geometry.Point2D{
		{X: p.X + g, Y: p.Y - g - h},
		{X: p.X + g, Y: p.Y + g},
		{X: p.X - g - w, Y: p.Y - g - h},
		{X: p.X - g - w, Y: p.Y + g},
		{X: p.X - w/2, Y: p.Y - g - h},
		{X: p.X - w/2, Y: p.Y + g},
	}
	for _, s := range slots {
		rect := geometry.NewRect(math.Floor(s.X), math.Floor(s.Y), w, h)
		if !rect.Inside(frame) {
			continue
		}
		free := true
		for _, o := range occupied {
			if rect.Intersects(o) {
				free = false
				break
			}
		}
		if free {
			return rect, true
		}
	}
	return geometry.Rect{}, false
}

func (r *Renderer) drawLabel(img *image.NRGBA, rect geometry.Rect, text string) {
	x1, y1 := int(rect.X), int(rect.Y)
	x2, y2 := x1+int(rect.Width), y1+int(rect.Height)
	fillRect(img, x1, y1, x2, y2, colorutil.LabelFill)
	drawRect(img, x1, y1, x2-1, y2-1, colorutil.Darken(colorutil.MissingRed, 0.3))
	drawText(img, x1+r.opts.Padding, y1+r.opts.Padding, text, colorutil.Black)
}
