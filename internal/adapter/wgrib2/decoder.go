// Package wgrib2 decodes GRIB2 fields by shelling out to NCEP's wgrib2.
package wgrib2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCommand is looked up in PATH when no explicit binary is configured.
const DefaultCommand = "wgrib2"

// Decoder implements domain.Decoder for GRIB2 files.
type Decoder struct {
	command string
	timeout time.Duration
	cache   *lruCache
	scans   singleflight.Group
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// breakerFailures is how many consecutive wgrib2 process faults open the
// breaker; while open, calls fail with gobreaker.ErrOpenState. A non-zero
// exit on a bad input file is not a fault.
const breakerFailures = 5

// NewDecoder creates a decoder. A zero timeout disables the per-call deadline.
func NewDecoder(command string, timeout time.Duration, cacheSize int, logger *slog.Logger) *Decoder {
	if command == "" {
		command = DefaultCommand
	}
	return &Decoder{
		command: command,
		timeout: timeout,
		cache:   newLRUCache(cacheSize),
		breaker: newBreaker(command, logger),
		logger:  logger,
	}
}

func newBreaker(command string, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "wgrib2",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !processFault(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("wgrib2 circuit breaker state changed",
				"command", command, "from", from.String(), "to", to.String())
		},
	})
}

// Decode locates spec in the file's inventory and dumps that record.
func (d *Decoder) Decode(ctx context.Context, file domain.SourceFile, spec domain.FieldSpec) (domain.Field, error) {
	inv, err := d.Inventory(ctx, file.Path)
	if err != nil {
		return domain.Field{}, err
	}
	rec, ok := inv.Find(spec)
	if !ok {
		return domain.Field{}, fmt.Errorf("%s: %w", spec, domain.ErrFieldNotFound)
	}

	tmp, err := os.MkdirTemp("", "wgrib2-*")
	if err != nil {
		return domain.Field{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "record.csv")
	if _, err := d.run(ctx, file.Path, "-d", rec.ID, "-csv", out); err != nil {
		return domain.Field{}, fmt.Errorf("extract record %s: %w", rec.ID, err)
	}

	f, err := os.Open(out)
	if err != nil {
		return domain.Field{}, fmt.Errorf("open csv dump: %w", err)
	}
	defer f.Close()

	g, err := parseCSV(f)
	if err != nil {
		return domain.Field{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}

	field := domain.Field{
		Spec:      spec,
		Lats:      g.lats,
		Lons:      g.lons,
		Values:    g.values,
		Time:      domain.Some(rec.RefTime),
		ValidTime: domain.Some(g.validTime),
		Step:      rec.Step(),
	}
	if spec.LevelType == domain.LevelHeightAboveGround {
		field.Level = spec.LevelValue
	}
	return field, nil
}

// Inventory returns the parsed short inventory of path, cached per file version.
func (d *Decoder) Inventory(ctx context.Context, path string) (Inventory, error) {
	key, err := inventoryKey(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if s, ok := d.cache.get(key); ok {
		if s.err != nil {
			return nil, fmt.Errorf("inventory %s: %w", path, s.err)
		}
		return s.inv, nil
	}

	v, err, _ := d.scans.Do(key, func() (any, error) {
		stdout, err := d.run(ctx, path, "-s")
		if err != nil {
			if rejectedInput(err) {
				d.cache.put(key, scan{err: err})
			}
			return nil, err
		}
		inv, err := ParseInventory(bytes.NewReader(stdout))
		if err != nil {
			d.cache.put(key, scan{err: err})
			return nil, err
		}
		d.cache.put(key, scan{inv: inv})
		return inv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return v.(Inventory), nil
}

// run invokes wgrib2 through the circuit breaker.
func (d *Decoder) run(ctx context.Context, path string, args ...string) ([]byte, error) {
	return d.breaker.Execute(func() ([]byte, error) {
		return d.exec(ctx, path, args...)
	})
}

// exec invokes wgrib2 with the file as first argument under the decode timeout.
func (d *Decoder) exec(ctx context.Context, path string, args ...string) ([]byte, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.command, append([]string{path}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("wgrib2 timed out after %s: %w", time.Since(start).Round(time.Millisecond), ctxErr)
		}
		return nil, fmt.Errorf("wgrib2: %w", ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		d.logger.Debug("wgrib2 failed", "file", path, "args", args, "stderr", msg)
		if msg != "" {
			return nil, fmt.Errorf("wgrib2: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("wgrib2: %w", err)
	}
	return stdout.Bytes(), nil
}

// processFault reports whether err means wgrib2 could not run, timed out or
// was killed. A normal non-zero exit is wgrib2 rejecting its input.
func processFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return !exit.Exited()
	}
	return true
}

// rejectedInput reports whether a failed scan is a property of the file and
// will fail the same way on every retry.
func rejectedInput(err error) bool {
	var exit *exec.ExitError
	return errors.As(err, &exit) && exit.Exited()
}
