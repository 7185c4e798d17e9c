package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"isimip/internal/dataset"
	"isimip/internal/fetch"
	"isimip/internal/logger"
	"isimip/internal/worker/runtime"
)

// ErrCropFailure wraps every error a failed crop reports. The source file is
// kept when it is returned.
var ErrCropFailure = errors.New("crop failed")

// Engine names a spatial subsetting tool.
type Engine string

const (
	EngineCDO  Engine = "cdo"
	EngineNCKS Engine = "ncks"
)

// ParseEngine validates an engine name.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineCDO, EngineNCKS:
		return e, nil
	default:
		return "", fmt.Errorf("unknown crop engine %q (valid: cdo, ncks)", s)
	}
}

// Command returns the argument vector cropping src into dst. bin overrides
// the executable name.
func (e Engine) Command(bin string, bbox dataset.BoundingBox, src, dst string) []string {
	if bin == "" {
		bin = string(e)
	}
	if e == EngineNCKS {
		c := bbox.CoordArgs()
		return []string{bin, "-O",
			"-d", "lon," + c[0] + "," + c[1],
			"-d", "lat," + c[2] + "," + c[3],
			src, dst}
	}
	return []string{bin, "-s", "sellonlatbox," + strings.Join(bbox.Args(), ","), src, dst}
}

// CropStatus is the outcome of one crop.
type CropStatus string

const (
	CropCropped              CropStatus = "cropped"
	CropFailed               CropStatus = "failed"
	CropSkippedMissingSource CropStatus = "skipped_missing_source"
)

// CropResult reports the outcome of Crop.
type CropResult struct {
	Status   CropStatus
	Output   string
	Duration time.Duration
	Err      error
}

// CropperConfig configures a Cropper.
type CropperConfig struct {
	Engine Engine
	// Binary overrides the engine executable, e.g. an absolute path.
	Binary string
	// Image is passed to container runtimes.
	Image   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Cropper subsets downloaded files to a bounding box with an external engine.
type Cropper struct {
	runtime runtime.Runtime
	store   *fetch.Store
	config  CropperConfig
}

// NewCropper creates a Cropper running its engine through rt inside store's root.
func NewCropper(rt runtime.Runtime, store *fetch.Store, config CropperConfig) *Cropper {
	if config.Engine == "" {
		config.Engine = EngineCDO
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = logger.New()
	}
	return &Cropper{runtime: rt, store: store, config: config}
}

// Binary returns the executable the engine is invoked as.
func (c *Cropper) Binary() string {
	if c.config.Binary != "" {
		return c.config.Binary
	}
	return string(c.config.Engine)
}

// Crop writes the cropped counterpart of rawKey. On success the raw file is
// removed; on failure any partial output is removed and the raw file is kept.
func (c *Cropper) Crop(ctx context.Context, rawKey string, bbox dataset.BoundingBox) CropResult {
	log := logger.FromContext(ctx, c.config.Logger).With("source", rawKey)

	exists, err := c.store.Exists(ctx, rawKey)
	if err != nil {
		return CropResult{Status: CropFailed, Err: fmt.Errorf("%w: stat %s: %w", ErrCropFailure, rawKey, err)}
	}
	if !exists {
		return CropResult{Status: CropSkippedMissingSource}
	}

	croppedKey := dataset.CroppedKey(rawKey)
	tmpKey := croppedKey + ".tmp"
	tmpPath := c.store.Path(tmpKey)
	_ = os.Remove(tmpPath)

	start := time.Now()
	out, err := runtime.Run(ctx, c.runtime, runtime.StartOptions{
		Image:   c.config.Image,
		Command: c.config.Engine.Command(c.config.Binary, bbox, rawKey, tmpKey),
		WorkDir: c.store.Root(),
		Timeout: c.config.Timeout,
	})
	elapsed := time.Since(start)

	fail := func(cause error) CropResult {
		_ = os.Remove(tmpPath)
		log.Error("crop failed", "engine", c.config.Engine, "error", cause, "output", out.LastLine())
		return CropResult{
			Status:   CropFailed,
			Duration: elapsed,
			Err:      fmt.Errorf("%w: %s: %w", ErrCropFailure, rawKey, cause),
		}
	}

	switch {
	case err != nil:
		return fail(err)
	case out.ExitCode != 0:
		msg := "exit code " + strconv.Itoa(out.ExitCode)
		if line := out.LastLine(); line != "" {
			msg += ": " + line
		}
		return fail(errors.New(msg))
	}

	if _, err := os.Stat(tmpPath); err != nil {
		return fail(fmt.Errorf("engine produced no output: %w", err))
	}
	if err := os.Rename(tmpPath, c.store.Path(croppedKey)); err != nil {
		return fail(fmt.Errorf("rename output: %w", err))
	}

	if err := c.store.Delete(ctx, rawKey); err != nil {
		log.Warn("failed to remove source after crop", "error", err)
	}

	log.Debug("cropped", "output", croppedKey, "duration", elapsed)
	return CropResult{Status: CropCropped, Output: croppedKey, Duration: elapsed}
}
