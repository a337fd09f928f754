package domain

import (
	"fmt"
	"log/slog"
	"time"
)

// ResolveTime picks the timestamp a field is valid at. A valid time wins;
// otherwise reference time plus step; otherwise a bare reference time.
// A step with no reference timestamp is only a placeholder and yields false.
func ResolveTime(f Field) (time.Time, bool) {
	if vt, ok := f.ValidTime.Get(); ok && !vt.IsZero() {
		return vt.UTC(), true
	}
	t, ok := f.Time.Get()
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	if step, ok := f.Step.Get(); ok {
		return t.Add(step).UTC(), true
	}
	return t.UTC(), true
}

// Merge combines the extractions of one file into a single frame.
func Merge(file SourceFile, extractions []Extraction, logger *slog.Logger) (Frame, error) {
	var fields []Field
	for _, e := range extractions {
		if f, ok := e.Field(); ok {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return Frame{}, &MergeError{File: file.Path, Err: ErrNoUsableFields}
	}

	var (
		frameTime time.Time
		haveTime  bool
	)
	for _, f := range fields {
		if t, ok := ResolveTime(f); ok {
			frameTime, haveTime = t, true
			break
		}
	}
	if !haveTime {
		return Frame{}, &MergeError{File: file.Path, Err: ErrNoTimeCoordinate}
	}

	ref := fields[0]
	frame := Frame{
		File:      file.Path,
		Time:      frameTime,
		Lats:      ref.Lats,
		Lons:      ref.Lons,
		Projected: ref.Projected,
	}

	for _, f := range fields {
		if !SameGrid(ref.Lats, ref.Lons, f.Lats, f.Lons) || !SameCells(ref.Projected, f.Projected) {
			return Frame{}, &MergeError{
				File:   file.Path,
				Err:    ErrGridMismatch,
				Detail: fmt.Sprintf("%s is %dx%d, %s is %dx%d", ref.Spec.CanonicalName, len(ref.Lats), len(ref.Lons), f.Spec.CanonicalName, len(f.Lats), len(f.Lons)),
			}
		}
	}

	for _, f := range fields {
		if t, ok := ResolveTime(f); ok && !t.Equal(frameTime) {
			logger.Warn("field time differs from frame time, dropping field",
				"file", file.Path, "canonical_name", f.Spec.CanonicalName,
				"field_time", t, "frame_time", frameTime)
			continue
		}
		v, ok := f.Spec.Variable()
		if !ok {
			logger.Warn("field has no canonical variable, dropping field",
				"file", file.Path, "canonical_name", f.Spec.CanonicalName)
			continue
		}
		if frame.Layers.Has(v) {
			continue
		}
		frame.Layers.Set(v, f.Values)
	}
	return frame, nil
}
