// Command tenant-locator locates mall tenants on an interactive floor map and
// checks map screenshots for tenants that are missing from them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"tenant-locator/internal/browser"
	"tenant-locator/internal/capture"
	"tenant-locator/internal/compare"
	"tenant-locator/internal/config"
	"tenant-locator/internal/directory"
	"tenant-locator/internal/embed"
	"tenant-locator/internal/image"
	"tenant-locator/internal/mapapi"
	"tenant-locator/internal/match"
	"tenant-locator/internal/ocr"
	"tenant-locator/internal/pipeline"
	"tenant-locator/internal/publish"
	"tenant-locator/internal/version"
)

const usage = `Usage: tenant-locator <command> [flags]

Commands:
  fetch     capture credentials and build the tenant directory
  analyze   match screenshots against a tenant directory
  compare   diff an older tenant inventory against a directory
  version   print build information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "fetch":
		err = runFetch(ctx, args)
	case "analyze":
		err = runAnalyze(ctx, args)
	case "compare":
		err = runCompare(args)
	case "version":
		fmt.Println(version.String())
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the common flag overrides.
func loadConfig(path, outDir string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if outDir != "" {
		cfg.OutputDir = outDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := NewLogger(level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func connectPublisher(cfg *config.Config, logger *slog.Logger) (*publish.Publisher, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	return publish.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "tenant-locator.yaml", "Path to config file")
	outDir := fs.String("out", "", "Output directory (overrides config)")
	pageURL := fs.String("url", "", "Mall map page to open in the browser")
	harPath := fs.String("har", "", "Replay a recorded HAR file instead of opening a browser")
	token := fs.String("token", "", "Mapping service token (skips capture together with -venue)")
	venue := fs.String("venue", "", "Venue identifier (skips capture together with -token)")
	headless := fs.Bool("headless", false, "Run the browser headless")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath, *outDir)
	if err != nil {
		return err
	}
	if *headless {
		cfg.Capture.Headless = true
	}

	pub, err := connectPublisher(cfg, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	api := mapapi.New(mapapi.Options{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            logger,
	})
	p := pipeline.New(cfg, pipeline.Deps{API: api, Publisher: pub, Logger: logger})

	creds := capture.Credentials{Token: *token, Venue: *venue}
	if !creds.Complete() {
		creds, err = captureCredentials(ctx, p, cfg, logger, *pageURL, *harPath)
		if err != nil {
			return err
		}
	}

	res, err := p.Fetch(ctx, creds)
	if err != nil {
		return err
	}
	fmt.Printf("Venue:   %s\n", res.Venue)
	fmt.Printf("Tenants: %d\n", len(res.Tenants))
	if res.Extent != nil {
		fmt.Printf("Extent:  lon %.6f..%.6f, lat %.6f..%.6f\n",
			res.Extent.Min.Lon(), res.Extent.Max.Lon(), res.Extent.Min.Lat(), res.Extent.Max.Lat())
	}
	fmt.Printf("Saved:   %s\n", res.Path)
	return nil
}

func captureCredentials(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, pageURL, harPath string) (capture.Credentials, error) {
	if harPath != "" {
		session, err := browser.OpenHAR(harPath, 0)
		if err != nil {
			return capture.Credentials{}, err
		}
		return p.Capture(ctx, session, nil)
	}
	if pageURL == "" {
		return capture.Credentials{}, fmt.Errorf("fetch needs -url, -har or both -token and -venue")
	}

	session, err := browser.Launch(ctx, browser.ChromeOptions{Headless: cfg.Capture.Headless, Logger: logger})
	if err != nil {
		return capture.Credentials{}, err
	}
	defer session.Close()
	if err := session.Navigate(pageURL); err != nil {
		return capture.Credentials{}, fmt.Errorf("open %s: %w", pageURL, err)
	}
	return p.Capture(ctx, session, browser.ConsentPreparer{Session: session})
}

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "tenant-locator.yaml", "Path to config file")
	outDir := fs.String("out", "", "Output directory (overrides config)")
	dirPath := fs.String("directory", "", "Tenant directory JSON written by fetch")
	venue := fs.String("venue", "", "Venue identifier attached to published results")
	threshold := fs.Float64("threshold", 0, "Match threshold (overrides config)")
	fs.Parse(args)

	if *dirPath == "" || fs.NArg() == 0 {
		return fmt.Errorf("usage: tenant-locator analyze -directory <file> <image|dir>...")
	}
	cfg, logger, err := loadConfig(*configPath, *outDir)
	if err != nil {
		return err
	}
	if *threshold > 0 {
		cfg.Match.Threshold = *threshold
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	tenants, err := directory.Load(*dirPath)
	if err != nil {
		return err
	}
	images, err := collectImages(fs.Args())
	if err != nil {
		return err
	}

	engine, err := ocr.NewEngine(ocr.Options{
		Languages:     cfg.OCR.Languages,
		MaxSide:       cfg.OCR.MaxSide,
		ClipLimit:     cfg.OCR.ClipLimit,
		MinConfidence: cfg.OCR.MinConfidence,
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	pub, err := connectPublisher(cfg, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	p := pipeline.New(cfg, pipeline.Deps{
		OCR:       engine,
		Model:     embeddingModel(cfg, logger),
		Publisher: pub,
		Logger:    logger,
	})
	reports, err := p.Analyze(ctx, *venue, tenants, images)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Printf("%-40s FAILED: %v\n", filepath.Base(r.Image), r.Err)
			continue
		}
		fmt.Printf("%-40s floor=%-12q found=%-4d missing=%-4d marked=%d\n",
			filepath.Base(r.Image), r.Floor, r.Found, r.Missing, len(r.Overlay.Markers))
	}
	if failed == len(reports) {
		return fmt.Errorf("no image could be analysed")
	}
	return nil
}

func embeddingModel(cfg *config.Config, logger *slog.Logger) match.EmbeddingModel {
	if cfg.Embedding.Provider == "ollama" {
		return embed.NewOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Timeout)
	}
	logger.Info("using hashed embeddings; name similarity is lexical", "dims", cfg.Embedding.Dims)
	return embed.NewHashed(cfg.Embedding.Dims)
}

// collectImages expands directories into the supported images they contain.
func collectImages(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && image.IsSupportedFormat(e.Name()) {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	dirPath := fs.String("directory", "", "Tenant directory JSON written by fetch")
	inventory := fs.String("inventory", "", "Older tenant list (.txt or .csv)")
	column := fs.String("column", "", "CSV column holding tenant names (default: detect)")
	fs.Parse(args)

	if *dirPath == "" || *inventory == "" {
		return fmt.Errorf("usage: tenant-locator compare -directory <file> -inventory <file>")
	}
	tenants, err := directory.Load(*dirPath)
	if err != nil {
		return err
	}
	old, err := compare.LoadInventory(*inventory, *column)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(compare.Compare(old, tenants))
}
