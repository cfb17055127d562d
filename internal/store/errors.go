package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("store: not found")
	// ErrProcedureUnavailable indicates a server-side procedure is not installed.
	ErrProcedureUnavailable = errors.New("store: procedure unavailable")
	// ErrNotApplied indicates a guarded update matched no pending row.
	ErrNotApplied = errors.New("store: update not applied")
	// ErrStaleVersion indicates the caller's row version no longer matches.
	ErrStaleVersion = errors.New("store: stale row version")
)
