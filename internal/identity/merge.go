package identity

import (
	"context"

	"github.com/goflagship/experiments/internal/store"
)

// mergeUsers collapses multiple matched Users into one. Matches arrive in
// the order returned by the disjunctive lookup (store.FindUsers orders
// them deterministically: oldest first_seen, tiebreak by id, so concurrent
// resolvers agree on the survivor); the first is primary. Every other
// user's non-null identifier and metadata fields are copied onto the
// primary where the primary is null; properties are unioned with the
// primary winning on conflict (on merge the primary wins, unlike identify
// where the incoming value wins). Each non-primary is then deleted,
// cascading its Distributions, and the primary is persisted.
func mergeUsers(ctx context.Context, tx store.Tx, matches []*store.User) (*store.User, error) {
	primary := matches[0]

	for _, u := range matches[1:] {
		if primary.DeviceID == nil && u.DeviceID != nil {
			primary.DeviceID = u.DeviceID
		}
		if primary.Email == nil && u.Email != nil {
			primary.Email = u.Email
		}
		if primary.ExternalID == nil && u.ExternalID != nil {
			primary.ExternalID = u.ExternalID
		}

		if primary.Metadata.URL == "" {
			primary.Metadata.URL = u.Metadata.URL
		}
		if primary.Metadata.OS == "" {
			primary.Metadata.OS = u.Metadata.OS
		}
		if primary.Metadata.OSVersion == "" {
			primary.Metadata.OSVersion = u.Metadata.OSVersion
		}
		if primary.Metadata.DeviceType == "" {
			primary.Metadata.DeviceType = u.Metadata.DeviceType
		}

		if primary.Properties == nil {
			primary.Properties = map[string]any{}
		}
		for k, v := range u.Properties {
			if _, exists := primary.Properties[k]; !exists {
				primary.Properties[k] = v // primary wins on conflict
			}
		}

		if err := tx.DeleteDistributionsByUser(ctx, u.ID); err != nil {
			return nil, err
		}
		if err := tx.DeleteUser(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateUser(ctx, primary); err != nil {
		return nil, err
	}
	return primary, nil
}
