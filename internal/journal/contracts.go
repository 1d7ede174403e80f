package journal

import "context"

type Repository interface {
	EnsureSchema(ctx context.Context) error

	RecordAttempt(ctx context.Context, a Attempt) error

	ListAttempts(ctx context.Context, account string, limit int) ([]Attempt, error)

	Close() error
}
