package port

import "context"

type Roster interface {
	// GetGroup maps a subject to its group; domain.ErrNotFound if the roster has no entry
	GetGroup(ctx context.Context, subjectID string) (string, error)
}
