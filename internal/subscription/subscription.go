package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localsync/syncengine/internal/store"
)

// Subscriptions is a thin domain facade over store.SubscriptionStore,
// modeled on the teacher's pattern of pairing a narrow read API with a
// single upsert path (see join-service's GetByEventAndUser/ListMyJoins).
type Subscriptions struct {
	store store.SubscriptionStore
}

func New(s store.SubscriptionStore) *Subscriptions {
	return &Subscriptions{store: s}
}

// Get reads one subscription row, or nil if none exists.
func (s *Subscriptions) Get(ctx context.Context, profileID, subscriptionID string) (*State, error) {
	row, err := s.store.GetSubscriptionState(ctx, profileID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription state: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return decodeState(row)
}

// List reads all subscription rows for a profile. Used by the pull engine
// to build cursors and by the progress projection.
func (s *Subscriptions) List(ctx context.Context, profileID string) ([]State, error) {
	rows, err := s.store.ListSubscriptionStates(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list subscription states: %w", err)
	}
	out := make([]State, 0, len(rows))
	for i := range rows {
		st, err := decodeState(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// Upsert writes a subscription row. Callers performing a pull-apply MUST
// call this through the same store.Tx as the row-data application, per
// §4.2 ("writes are always inside the same transaction as the pull-apply").
func Upsert(ctx context.Context, s store.SubscriptionStore, state State) error {
	row, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode subscription state: %w", err)
	}
	if err := s.UpsertSubscriptionState(ctx, *row); err != nil {
		return fmt.Errorf("upsert subscription state: %w", err)
	}
	return nil
}

// Delete removes one subscription row (used for revocation cleanup).
func Delete(ctx context.Context, s store.SubscriptionStore, profileID, subscriptionID string) error {
	return s.DeleteSubscriptionState(ctx, profileID, subscriptionID)
}

// DesiredSet reports which subscription ids an application wants active for
// a profile right now. Applications that manage subscription membership
// themselves (a user leaving a workspace, a feature being toggled off)
// implement this so the next pull apply prunes anything no longer desired
// (spec §4.4 step 2) without the application having to compute and delete
// the diff itself. Leaving this unset (nil) in pull.ApplyPullResponse's
// caller disables pruning.
type DesiredSet interface {
	Desired(ctx context.Context, profileID string) ([]string, error)
}

func decodeState(row *store.SubscriptionState) (*State, error) {
	var scopes map[string]ScopeValue
	if len(row.ScopesJSON) > 0 {
		if err := json.Unmarshal(row.ScopesJSON, &scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}
	var params map[string]any
	if len(row.ParamsJSON) > 0 {
		if err := json.Unmarshal(row.ParamsJSON, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	var bootstrap *BootstrapState
	if len(row.BootstrapStateJSON) > 0 {
		bootstrap = &BootstrapState{}
		if err := json.Unmarshal(row.BootstrapStateJSON, bootstrap); err != nil {
			return nil, fmt.Errorf("decode bootstrap state: %w", err)
		}
	}
	return &State{
		ProfileID:      row.ProfileID,
		SubscriptionID: row.SubscriptionID,
		Table:          row.Table,
		Scopes:         scopes,
		Params:         params,
		Cursor:         row.Cursor,
		BootstrapState: bootstrap,
		Status:         Status(row.Status),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func encodeState(s State) (*store.SubscriptionState, error) {
	scopesJSON, err := json.Marshal(s.Scopes)
	if err != nil {
		return nil, err
	}
	var paramsJSON []byte
	if s.Params != nil {
		paramsJSON, err = json.Marshal(s.Params)
		if err != nil {
			return nil, err
		}
	}
	var bootstrapJSON []byte
	if s.BootstrapState != nil {
		bootstrapJSON, err = json.Marshal(s.BootstrapState)
		if err != nil {
			return nil, err
		}
	}
	return &store.SubscriptionState{
		ProfileID:          s.ProfileID,
		SubscriptionID:     s.SubscriptionID,
		Table:              s.Table,
		ScopesJSON:         scopesJSON,
		ParamsJSON:         paramsJSON,
		Cursor:             s.Cursor,
		BootstrapStateJSON: bootstrapJSON,
		Status:             store.SubscriptionStatus(s.Status),
	}, nil
}
