package policy

import "context"

// Store persists the rule table so API edits survive restarts.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Save(ctx context.Context, r Rule) error
	Delete(ctx context.Context, p Priority) error

	// Seeded reports whether the store has ever been given a rule table.
	Seeded(ctx context.Context) (bool, error)
	MarkSeeded(ctx context.Context) error
}

// Bootstrap returns the stored rule table. A store that was never seeded
// receives base first; once seeded, the stored table is authoritative even
// when every rule has since been deleted.
func Bootstrap(ctx context.Context, store Store, base []Rule) ([]Rule, error) {
	seeded, err := store.Seeded(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	if seeded {
		return stored, nil
	}
	if len(stored) > 0 {
		// Rules saved before the marker existed.
		return stored, store.MarkSeeded(ctx)
	}
	for _, r := range base {
		if err := store.Save(ctx, r); err != nil {
			return nil, err
		}
	}
	if err := store.MarkSeeded(ctx); err != nil {
		return nil, err
	}
	return base, nil
}
