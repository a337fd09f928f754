package domain

import "context"

// WriteMode says how a store applied a cycle.
type WriteMode string

const (
	ModeCreate  WriteMode = "create"
	ModeAppend  WriteMode = "append"
	ModeRewrite WriteMode = "rewrite"
	ModeReplace WriteMode = "replace"
)

// Ack confirms a committed cycle write.
type Ack struct {
	Target  string
	Mode    WriteMode
	Records int
}

// CycleStore persists a CycleGrid keyed by its init time. Writing a key
// that already exists supersedes the earlier generation.
type CycleStore interface {
	Write(ctx context.Context, grid CycleGrid) (Ack, error)
}
