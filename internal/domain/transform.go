package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseCycleRequest decodes a RawEvent into a cycle key. Missing payload
// fields fall back to message headers of the same name.
func ParseCycleRequest(raw RawEvent) (CycleKey, error) {
	var req CycleRequest
	if len(raw.Value) > 0 {
		if err := json.Unmarshal(raw.Value, &req); err != nil {
			return CycleKey{}, fmt.Errorf("parse cycle request: %w", err)
		}
	}
	if req.Source == "" {
		req.Source = raw.Headers["source"]
	}
	if req.Date == "" {
		req.Date = raw.Headers["date"]
	}
	if req.Cycle == "" {
		req.Cycle = raw.Headers["cycle"]
	}
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.Cycle = normalizeCycle(req.Cycle)

	key, err := ParseCycleKey(req.Source, strings.TrimSpace(req.Date), req.Cycle)
	if err != nil {
		return CycleKey{}, fmt.Errorf("parse cycle request: %w", err)
	}
	return key, nil
}

// normalizeCycle accepts "6", "06" and "06z".
func normalizeCycle(s string) string {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "z")
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// NewIngestResult starts a result for key, stamped with the current time.
func NewIngestResult(key CycleKey) IngestResult {
	return IngestResult{
		Source:      key.Source,
		Date:        key.Date,
		Cycle:       key.CycleHour(),
		InitTime:    key.InitTime(),
		ProcessedAt: Now(),
	}
}

// VariableNames returns the canonical names of vars.
func VariableNames(vars []Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}
