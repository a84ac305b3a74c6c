package engine

import "context"

// Connector provisions organizations and users into one backend security
// system. Every method must be safe to call repeatedly for the same change:
// the engine retries by re-issuing the whole operation and keeps no
// per-connector state.
type Connector interface {
	// Name identifies the connector in errors, logs and metrics.
	Name() string

	AddOrganization(ctx context.Context, orgID string) error
	AddUserToOrg(ctx context.Context, userID, orgID string) error
	RemoveOrganization(ctx context.Context, orgID string) error
	RemoveUserFromOrg(ctx context.Context, userID, orgID string) error

	// Synchronize lets the connector heal its own backend in bulk before a
	// full synchronization pass.
	Synchronize(ctx context.Context) error
}
