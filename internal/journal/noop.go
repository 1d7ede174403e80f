package journal

import "context"

// Noop is used when no journal database is configured.
type Noop struct{}

var _ Repository = Noop{}

func (Noop) EnsureSchema(context.Context) error { return nil }

func (Noop) RecordAttempt(context.Context, Attempt) error { return nil }

func (Noop) ListAttempts(context.Context, string, int) ([]Attempt, error) { return nil, nil }

func (Noop) Close() error { return nil }
