package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tomoseg/pkg/config"
	"tomoseg/pkg/pipeline"
	"tomoseg/pkg/volumeio"
)

const version = "0.3.0"

// options holds the command line flags
type options struct {
	inputDir     string
	outputDir    string
	configPath   string
	writeConfig  bool
	blockSize    int
	offset       float64
	method       string
	connectivity int
	workers      int
	chunkSize    int
	format       string
	previewDir   string
	debug        bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("tomoseg", flag.ExitOnError)
	fs.StringVar(&o.inputDir, "input", "", "Directory containing reconstructed slices")
	fs.StringVar(&o.outputDir, "output", "segmented", "Directory for segmented slices")
	fs.StringVar(&o.configPath, "config", "tomoseg.yaml", "YAML configuration file")
	fs.BoolVar(&o.writeConfig, "write-config", false, "Write the default configuration to -config and exit")
	fs.IntVar(&o.blockSize, "block-size", 0, "Odd neighbourhood size for the local threshold (overrides config)")
	fs.Float64Var(&o.offset, "offset", 0, "Constant subtracted from the local weighted mean (overrides config)")
	fs.StringVar(&o.method, "method", "", "Local weighting: gaussian, mean or median (overrides config)")
	fs.IntVar(&o.connectivity, "connectivity", 0, "Structuring element connectivity, 4 or 8 (overrides config)")
	fs.IntVar(&o.workers, "workers", 0, "Number of chunks segmented concurrently (overrides config)")
	fs.IntVar(&o.chunkSize, "chunk-size", 0, "Slices per chunk, 0 splits evenly across workers (overrides config)")
	fs.StringVar(&o.format, "format", "", "Output format: tiff, png or raw (overrides config)")
	fs.StringVar(&o.previewDir, "previews", "", "Directory for orthogonal preview images")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	return fs
}

// loadConfig reads the config file, applies explicitly set flags on top of
// it and validates the result.
func loadConfig(fs *flag.FlagSet, o *options) (*config.Config, error) {
	cfg, err := config.ReadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "block-size":
			cfg.Segmentation.BlockSize = o.blockSize
		case "offset":
			cfg.Segmentation.Offset = o.offset
		case "method":
			cfg.Segmentation.Method = o.method
		case "connectivity":
			cfg.Segmentation.Connectivity = o.connectivity
		case "workers":
			cfg.Processing.NumWorkers = o.workers
		case "chunk-size":
			cfg.Processing.ChunkSize = o.chunkSize
		case "format":
			cfg.Output.Format = o.format
		case "previews":
			cfg.Output.PreviewDir = o.previewDir
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	o := &options{}
	fs := newFlagSet(o)
	fs.Parse(os.Args[1:])

	if o.writeConfig {
		if err := config.CreateDefaultConfigFile(o.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", o.configPath)
		return
	}

	if o.inputDir == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(fs, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(o.debug || cfg.Output.Verbose)

	seg, err := cfg.SegmentParams()
	if err != nil {
		logger.WithError(err).Fatal("invalid segmentation parameters")
	}
	outFormat, err := volumeio.ParseFormat(cfg.Output.Format)
	if err != nil {
		logger.WithError(err).Fatal("invalid output format")
	}

	logger.WithFields(logrus.Fields{
		"version":      version,
		"block_size":   seg.BlockSize,
		"offset":       seg.Offset,
		"method":       seg.Method.String(),
		"connectivity": seg.Connectivity.String(),
		"workers":      cfg.Processing.NumWorkers,
		"chunk_size":   cfg.Processing.ChunkSize,
	}).Info("starting adaptive segmentation")

	params := &pipeline.Params{
		InputDir:     o.inputDir,
		OutputDir:    o.outputDir,
		Format:       outFormat,
		Segmentation: seg,
		NumWorkers:   cfg.Processing.NumWorkers,
		ChunkSize:    cfg.Processing.ChunkSize,
		PreviewDir:   cfg.Output.PreviewDir,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	segmenter := pipeline.NewSegmenter(params, logger)
	if err := segmenter.Process(ctx); err != nil {
		logger.WithError(err).Error("segmentation failed")
		stop()
		os.Exit(1)
	}

	m := segmenter.GetMetrics()
	logger.WithFields(logrus.Fields{
		"output":        o.outputDir,
		"foreground":    fmt.Sprintf("%.4f", m.ForegroundFraction),
		"slice_mean":    fmt.Sprintf("%.4f", m.SliceMean),
		"slice_stddev":  fmt.Sprintf("%.4f", m.SliceStdDev),
		"empty_slices":  m.EmptySlices,
		"chunks":        m.Chunks,
		"total_seconds": time.Since(start).Seconds(),
	}).Info("done")
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
