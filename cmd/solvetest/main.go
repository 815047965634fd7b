// Command solvetest solves a geo->pixel transform from control points and
// prints how well each point is reproduced.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"tenant-locator/internal/directory"
	"tenant-locator/internal/transform"
)

func main() {
	pointsPath := flag.String("p", "", "JSON file with [{lon, lat, x, y}, ...]")
	dirPath := flag.String("d", "", "Optional tenant directory to project")
	floor := flag.String("floor", directory.DefaultFloor, "Floor of the directory to project")
	flag.Parse()

	if *pointsPath == "" {
		fmt.Println("Usage: solvetest -p <points.json> [-d <directory.json> -floor <name>]")
		os.Exit(1)
	}

	data, err := os.ReadFile(*pointsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read points: %v\n", err)
		os.Exit(1)
	}
	var points []transform.ControlPoint
	if err := json.Unmarshal(data, &points); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse points: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Solving from %d control points ===\n", len(points))
	t, err := transform.Solve(points)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Solve failed: %v\n", err)
		os.Exit(1)
	}

	m := t.Matrix
	fmt.Printf("Model:   %s\n", t.Kind)
	fmt.Printf("Inliers: %d/%d\n", t.InlierCount(), len(points))
	fmt.Printf("Matrix:\n")
	for _, row := range m {
		fmt.Printf("  [%14.6f %14.6f %14.6f]\n", row[0], row[1], row[2])
	}

	fmt.Printf("\n=== Residuals ===\n")
	var sum, worst float64
	n := 0
	for i, r := range t.Residuals(points) {
		mark := ""
		if !t.Inliers[i] {
			mark = " (outlier)"
		}
		fmt.Printf("%3d  (%.6f, %.6f) -> (%.1f, %.1f)  err %.2f px%s\n",
			i, points[i].Lon, points[i].Lat, points[i].X, points[i].Y, r, mark)
		if t.Inliers[i] && !math.IsInf(r, 0) {
			sum += r
			worst = math.Max(worst, r)
			n++
		}
	}
	if n > 0 {
		fmt.Printf("Avg error: %.2f px\n", sum/float64(n))
		fmt.Printf("Max error: %.2f px\n", worst)
	}

	if *dirPath == "" {
		return
	}
	tenants, err := directory.Load(*dirPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load directory: %v\n", err)
		os.Exit(1)
	}
	if b, ok := directory.Bounds(tenants); ok {
		lo, lok := t.ProjectPoint(b.Min)
		hi, hok := t.ProjectPoint(b.Max)
		if lok && hok {
			fmt.Printf("\nVenue extent: (%.1f, %.1f) .. (%.1f, %.1f) px\n", lo.X, lo.Y, hi.X, hi.Y)
		}
	}
	fmt.Printf("\n=== Projected tenants on %s ===\n", *floor)
	for _, tn := range tenants {
		if tn.FloorName != *floor {
			continue
		}
		geo, ok := tn.Geo()
		if !ok {
			continue
		}
		if p, ok := t.ProjectPoint(geo); ok {
			fmt.Printf("%-40s (%.1f, %.1f)\n", tn.Name, p.X, p.Y)
		}
	}
}
