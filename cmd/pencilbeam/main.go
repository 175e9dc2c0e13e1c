package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"pencilbeam/pkg/beam"
	"pencilbeam/pkg/config"
	"pencilbeam/pkg/dicomsource"
	"pencilbeam/pkg/geometry"
	"pencilbeam/pkg/transform"
	"pencilbeam/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the DICOM image series")
	configPath := flag.String("config", "pencilbeam.yaml", "Configuration file (defaults are used if missing)")
	planPath := flag.String("plan", "", "Optional YAML beam plan to set up against the imported image")
	seriesID := flag.String("series", "", "Series to import (overrides the configuration)")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save preview slices along all axes")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *seriesID != "" {
		cfg.Import.SeriesID = *seriesID
	}
	if *extractSlices {
		cfg.Output.SaveSlices = true
	}

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("PENCIL BEAM GEOMETRY SETUP")
	fmt.Println("================================")

	opts := geometry.Options{Logger: logger}
	if cfg.Import.SeriesID != "" {
		opts.Select = geometry.SelectSeries(cfg.Import.SeriesID)
	}
	source := dicomsource.New(dicomsource.Options{Workers: cfg.Import.Workers, Logger: logger})
	resolver := geometry.NewResolver(source, opts)

	fmt.Printf("Importing image series from %s using %d workers...\n", *inputDir, cfg.Import.Workers)
	startTime := time.Now()
	res, err := resolver.Resolve(ctx, *inputDir)
	if err != nil {
		var ie *geometry.ImportError
		if errors.As(err, &ie) && ie.Op == "select" {
			log.Fatalf("Import failed: %v (use -series to pick another series)", err)
		}
		log.Fatalf("Import failed: %v", err)
	}

	geom := res.Geometry
	fmt.Printf("\nImport completed successfully in %.2f seconds!\n", time.Since(startTime).Seconds())
	fmt.Printf("- Read: %.2f s, convert: %.2f s\n", res.ReadTime.Seconds(), res.ConvertTime.Seconds())

	fmt.Println("\nSeries found:")
	for _, id := range res.Candidates {
		marker := " "
		if id == res.SeriesID {
			marker = "*"
		}
		fmt.Printf(" %s %s\n", marker, id)
	}

	stats := geom.Stats()
	fmt.Println("\nImage geometry:")
	fmt.Println("===============")
	fmt.Printf("Dimensions: %d x %d x %d (%d voxels, %d files)\n", geom.Dim[0], geom.Dim[1], geom.Dim[2], geom.N, len(res.Files))
	fmt.Printf("Direction x spacing:\n")
	for _, row := range geom.Transform.M {
		fmt.Printf("  [%9.4f %9.4f %9.4f]\n", row[0], row[1], row[2])
	}
	fmt.Printf("Origin: (%.3f, %.3f, %.3f) mm\n", geom.Transform.T.X, geom.Transform.T.Y, geom.Transform.T.Z)
	fmt.Printf("Values (HU+%d): min %.1f, max %.1f, mean %.1f, std %.1f\n",
		geometry.HUOffset, stats.Min, stats.Max, stats.Mean, stats.StdDev)

	if *planPath != "" {
		plan, err := beam.LoadPlan(*planPath)
		if err != nil {
			log.Fatalf("Failed to load plan: %v", err)
		}

		alloc := beam.NewHeapAllocator()
		settings, err := plan.Build(alloc, geom.Transform)
		if err != nil {
			log.Fatalf("Beam setup failed: %v", err)
		}

		// The gantry frame is centred on the isocenter.
		iso := settings.GantryToImIdx().Apply(transform.Vec3{})
		fmt.Printf("\nBeam %q:\n", plan.Name)
		fmt.Printf("- Gantry %.1f deg, couch %.1f deg\n", plan.GantryAngle, plan.CouchAngle)
		fmt.Printf("- %d energy layers, %d ray steps\n", len(settings.Energies()), settings.Steps())
		fmt.Printf("- Isocenter at image index (%.2f, %.2f, %.2f)\n", iso.X, iso.Y, iso.Z)
		if !geom.ContainsIndex(iso) {
			logger.Warn("isocenter lies outside the image", "beam", plan.Name)
		}

		if err := alloc.Free(settings.Weights().Image()); err != nil {
			logger.Warn("releasing weight image", "err", err)
		}
	}

	// Extract and save slices if requested
	if cfg.Output.SaveSlices {
		fmt.Println("\nExtracting preview slices along all axes...")

		viewer := visualization.NewViewer(geom)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(cfg.Output.SlicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}
}
