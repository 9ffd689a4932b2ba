// Package identity implements the Identity Resolver and Merge components
//: collapsing a set of supplied identifiers to
// exactly one persisted User per project, creating or merging as needed.
package identity

import (
	"context"
	"fmt"

	"github.com/goflagship/experiments/internal/store"
)

// Resolver resolves IdentifierSets to Users against a Store.
type Resolver struct {
	store store.Store
}

// New constructs a Resolver over the given Store.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// IdentifyInput carries the optional fields a client supplies to
// POST /users/identify.
type IdentifyInput struct {
	IDs        store.IdentifierSet
	Metadata   store.UserMetadata
	Properties map[string]any
}

// Identify runs the disjunctive identifier lookup, then
// creates, updates or merges-then-updates a User, inside one transaction
// so concurrent identify calls on the same identifier set cannot produce
// two survivors.
func (r *Resolver) Identify(ctx context.Context, projectID string, in IdentifyInput) (*store.User, error) {
	if in.IDs.Empty() {
		return nil, store.ErrNoIdentifier
	}

	var result *store.User
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		matches, err := tx.FindUsers(ctx, projectID, in.IDs)
		if err != nil {
			return err
		}

		switch len(matches) {
		case 0:
			u := newUserFromInput(projectID, in)
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
			result = u
			return nil

		case 1:
			u := matches[0]
			applyIdentify(u, in)
			if err := tx.UpdateUser(ctx, u); err != nil {
				return err
			}
			result = u
			return nil

		default:
			primary, err := mergeUsers(ctx, tx, matches)
			if err != nil {
				return err
			}
			applyIdentify(primary, in)
			if err := tx.UpdateUser(ctx, primary); err != nil {
				return err
			}
			result = primary
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("identity: identify: %w", err)
	}
	return result, nil
}

func newUserFromInput(projectID string, in IdentifyInput) *store.User {
	u := &store.User{
		ProjectID:  projectID,
		Metadata:   in.Metadata,
		Properties: cloneProperties(in.Properties),
	}
	if in.IDs.ID != "" {
		u.ID = in.IDs.ID
	}
	if in.IDs.DeviceID != "" {
		u.DeviceID = strPtr(in.IDs.DeviceID)
	}
	if in.IDs.Email != "" {
		u.Email = strPtr(in.IDs.Email)
	}
	if in.IDs.ExternalID != "" {
		u.ExternalID = strPtr(in.IDs.ExternalID)
	}
	if u.Properties == nil {
		u.Properties = map[string]any{}
	}
	return u
}

// applyIdentify fills any identifier fields supplied and still null,
// overwrites optional metadata fields when supplied, and merges
// properties with incoming values winning on conflict.
func applyIdentify(u *store.User, in IdentifyInput) {
	if in.IDs.DeviceID != "" && u.DeviceID == nil {
		u.DeviceID = strPtr(in.IDs.DeviceID)
	}
	if in.IDs.Email != "" && u.Email == nil {
		u.Email = strPtr(in.IDs.Email)
	}
	if in.IDs.ExternalID != "" && u.ExternalID == nil {
		u.ExternalID = strPtr(in.IDs.ExternalID)
	}

	if in.Metadata.URL != "" {
		u.Metadata.URL = in.Metadata.URL
	}
	if in.Metadata.OS != "" {
		u.Metadata.OS = in.Metadata.OS
	}
	if in.Metadata.OSVersion != "" {
		u.Metadata.OSVersion = in.Metadata.OSVersion
	}
	if in.Metadata.DeviceType != "" {
		u.Metadata.DeviceType = in.Metadata.DeviceType
	}

	if len(in.Properties) > 0 {
		if u.Properties == nil {
			u.Properties = map[string]any{}
		}
		for k, v := range in.Properties {
			u.Properties[k] = v // incoming wins
		}
	}
}

func cloneProperties(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
