package leads

import (
	"context"
	"time"
)

// Lead is a prospective contact not yet tracked by the cadence system.
// Raw attributes are opaque to the core; they travel into the contact
// record's metadata at the queue-to-cadence hand-off.
type Lead struct {
	ID          string            `json:"id" db:"id"`
	Destination string            `json:"destination" db:"destination"`
	Name        string            `json:"name,omitempty" db:"name"`
	Source      string            `json:"source,omitempty" db:"source"`
	Attributes  map[string]string `json:"attributes,omitempty" db:"attributes"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Repo persists leads. Duplicate detection is by destination.
type Repo interface {
	Create(ctx context.Context, l Lead) error
	GetByID(ctx context.Context, id string) (Lead, bool, error)
	GetByDestination(ctx context.Context, destination string) (Lead, bool, error)
}
