package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
)

// RecipientResolver decides who may receive a run's completion digest.
type RecipientResolver interface {
	Resolve(ctx context.Context, run *store.Run) ([]string, error)
}

type storeResolver struct {
	store store.Store
	extra []string
}

// NewStoreResolver resolves the run's assignee and creator to the email
// addresses of their users and adds the extra configured addresses.
// Only deliverable addresses are returned.
func NewStoreResolver(st store.Store, extra []string) RecipientResolver {
	return &storeResolver{store: st, extra: extra}
}

func (r *storeResolver) Resolve(ctx context.Context, run *store.Run) ([]string, error) {
	candidates := make([]string, 0, len(r.extra)+2)

	for _, username := range []string{run.AssignedTo, run.CreatedBy} {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}

		user, err := r.store.GetUserByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Free-text assignees may already be an address.
				candidates = append(candidates, username)

				continue
			}

			return nil, fmt.Errorf("looking up user %q: %w", username, err)
		}

		candidates = append(candidates, user.Email)
	}

	candidates = append(candidates, r.extra...)

	return deliverable(candidates), nil
}

// deliverable parses each candidate as an RFC 5322 address and returns the
// sorted distinct bare addresses of those that parse.
func deliverable(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}

		addr, err := mail.ParseAddress(c)
		if err != nil {
			continue
		}

		key := strings.ToLower(addr.Address)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, addr.Address)
	}

	sort.Strings(out)

	return out
}
