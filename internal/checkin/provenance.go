package checkin

import (
	"context"
	"errors"
)

// maxProvenanceHops caps traversal of mentioned_in links.
const maxProvenanceHops = 16

// Provenance returns the check-in followed by the check-ins that spawned it,
// nearest first. The walk stops at a missing link, a repeated id or after
// maxProvenanceHops.
func (s *Service) Provenance(ctx context.Context, userID uint64, id string) ([]CheckIn, error) {
	db := s.DB.WithContext(ctx)
	c, err := findOwned(db, userID, id)
	if err != nil {
		return nil, err
	}

	chain := []CheckIn{*c}
	seen := map[string]bool{c.ID: true}
	for hops := 0; hops < maxProvenanceHops; hops++ {
		parent := chain[len(chain)-1].Trigger().MentionedIn
		if parent == "" || seen[parent] {
			break
		}
		p, err := findOwned(db, userID, parent)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[p.ID] = true
		chain = append(chain, *p)
	}
	return chain, nil
}
