// Package engine applies organization and user changes to every connector and
// records full successes in the provisioning ledger.
//
// A mutation is committed to the ledger only when every connector accepted it
// within the configured timeout. Operations are idempotent: re-issuing one
// after a partial failure converges the backends because connectors are
// themselves idempotent.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/controlplane"
	"github.com/wolfeidau/orgsync/internal/ledger"
	"github.com/wolfeidau/orgsync/internal/models"
)

// Config holds fan-out settings.
type Config struct {
	// Timeout bounds each fan-out across all connectors.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxParallel bounds concurrent connector calls per fan-out.
	// Default: number of connectors
	MaxParallel int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults(connectors int) {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = max(connectors, 1)
	}
}

// Engine reconciles the control-plane listing with the connectors.
type Engine struct {
	controlPlane controlplane.Client
	ledger       *ledger.Ledger
	connectors   []Connector
	timeout      time.Duration
	maxParallel  int
}

// New creates an engine. The ledger must already be initialized.
func New(cp controlplane.Client, l *ledger.Ledger, connectors []Connector, cfg Config) *Engine {
	cfg.ApplyDefaults(len(connectors))

	return &Engine{
		controlPlane: cp,
		ledger:       l,
		connectors:   connectors,
		timeout:      cfg.Timeout,
		maxParallel:  cfg.MaxParallel,
	}
}

// Connectors returns the names of the registered connectors.
func (e *Engine) Connectors() []string {
	names := make([]string, 0, len(e.connectors))
	for _, c := range e.connectors {
		names = append(names, c.Name())
	}
	return names
}

// AddOrganization provisions orgID to every connector and marks it in the
// ledger. It runs even when the organization is already marked. Once marked
// the organization is reported as provisioned whether or not the
// control-plane lists it yet; an empty name is filled from the listing.
func (e *Engine) AddOrganization(ctx context.Context, orgID, name string) (*models.OrgState, error) {
	if err := e.addOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return e.provisionedOrgState(ctx, orgID, name), nil
}

// AddUserToOrg provisions userID inside orgID and marks it in the ledger. The
// organization must already be marked.
func (e *Engine) AddUserToOrg(ctx context.Context, userID, orgID string) (*models.UserState, error) {
	if err := e.addUserToOrg(ctx, userID, orgID); err != nil {
		return nil, err
	}
	return e.provisionedUserState(ctx, orgID, userID), nil
}

// RemoveOrganization deprovisions orgID from every connector, then removes
// its mark together with the marks of its users.
func (e *Engine) RemoveOrganization(ctx context.Context, orgID string) error {
	err := e.fanOut(ctx, "remove organization", func(ctx context.Context, c Connector) error {
		return c.RemoveOrganization(ctx, orgID)
	})
	if err != nil {
		return fmt.Errorf("remove organization %s: %w", orgID, err)
	}

	if err := e.ledger.UnmarkOrg(ctx, orgID); err != nil {
		return fmt.Errorf("remove organization %s: %w", orgID, err)
	}

	zerolog.Ctx(ctx).Info().Str("org_id", orgID).Msg("Organization removed")

	return nil
}

// RemoveUserFromOrg deprovisions userID from orgID on every connector, then
// removes its mark. Like AddUserToOrg it requires the organization mark.
func (e *Engine) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	if err := e.requireOrgMarked(ctx, orgID); err != nil {
		return fmt.Errorf("remove user %s from organization %s: %w", userID, orgID, err)
	}

	err := e.fanOut(ctx, "remove user", func(ctx context.Context, c Connector) error {
		return c.RemoveUserFromOrg(ctx, userID, orgID)
	})
	if err != nil {
		return fmt.Errorf("remove user %s from organization %s: %w", userID, orgID, err)
	}

	if err := e.ledger.UnmarkUser(ctx, orgID, userID); err != nil {
		return fmt.Errorf("remove user %s from organization %s: %w", userID, orgID, err)
	}

	zerolog.Ctx(ctx).Info().Str("org_id", orgID).Str("user_id", userID).Msg("User removed")

	return nil
}

// Synchronize runs every connector's own synchronization hook, then adds every
// organization and user listed by the control-plane. Failures of single
// entities do not stop the pass; they are returned together at the end.
func (e *Engine) Synchronize(ctx context.Context) (*models.Snapshot, error) {
	logger := zerolog.Ctx(ctx)
	started := time.Now()

	err := e.fanOut(ctx, "synchronize", func(ctx context.Context, c Connector) error {
		return c.Synchronize(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("synchronize: %w", err)
	}

	orgs, err := controlplane.ListOrganizations(ctx, e.controlPlane)
	if err != nil {
		return nil, fmt.Errorf("synchronize: %w", err)
	}

	var merr *multierror.Error
	for _, org := range orgs {
		if err := e.addOrganization(ctx, org.GUID); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		users, err := controlplane.ListUsers(ctx, e.controlPlane, org.GUID)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		for _, user := range users {
			if err := e.addUserToOrg(ctx, user.GUID, org.GUID); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		logger.Warn().Err(err).Int("organizations", len(orgs)).Msg("Synchronization incomplete")
		return nil, fmt.Errorf("synchronize: %w", err)
	}

	logger.Info().
		Int("organizations", len(orgs)).
		Dur("duration", time.Since(started)).
		Msg("Synchronization complete")

	return e.State(ctx)
}

// State returns every control-plane organization annotated with ledger marks.
func (e *Engine) State(ctx context.Context) (*models.Snapshot, error) {
	orgs, err := controlplane.ListOrganizations(ctx, e.controlPlane)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	snapshot := &models.Snapshot{Organizations: make([]models.OrgState, 0, len(orgs))}
	for _, org := range orgs {
		state, err := e.orgState(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
		snapshot.Organizations = append(snapshot.Organizations, *state)
	}

	return snapshot, nil
}

// OrgState returns orgID annotated with ledger marks. ErrNotFound is returned
// when the control-plane does not list orgID.
func (e *Engine) OrgState(ctx context.Context, orgID string) (*models.OrgState, error) {
	org, err := e.findOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("organization state %s: %w", orgID, err)
	}

	state, err := e.orgState(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("organization state %s: %w", orgID, err)
	}

	return state, nil
}

// UserState returns userID of orgID annotated with its ledger mark.
// ErrNotFound is returned when the control-plane lists neither.
func (e *Engine) UserState(ctx context.Context, orgID, userID string) (*models.UserState, error) {
	if _, err := e.findOrganization(ctx, orgID); err != nil {
		return nil, fmt.Errorf("user state %s in organization %s: %w", userID, orgID, err)
	}

	users, err := controlplane.ListUsers(ctx, e.controlPlane, orgID)
	if err != nil {
		return nil, fmt.Errorf("user state %s in organization %s: %w", userID, orgID, err)
	}

	user, ok := models.FindUser(users, userID)
	if !ok {
		return nil, fmt.Errorf("user state %s in organization %s: %w: user", userID, orgID, ErrNotFound)
	}

	marked, err := e.ledger.IsUserMarked(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("user state %s in organization %s: %w", userID, orgID, err)
	}

	return &models.UserState{GUID: user.GUID, Name: user.Name, Synchronized: marked}, nil
}

func (e *Engine) addOrganization(ctx context.Context, orgID string) error {
	err := e.fanOut(ctx, "add organization", func(ctx context.Context, c Connector) error {
		return c.AddOrganization(ctx, orgID)
	})
	if err != nil {
		return fmt.Errorf("add organization %s: %w", orgID, err)
	}

	if err := e.ledger.MarkOrg(ctx, orgID); err != nil {
		return fmt.Errorf("add organization %s: %w", orgID, err)
	}

	zerolog.Ctx(ctx).Info().Str("org_id", orgID).Msg("Organization provisioned")

	return nil
}

func (e *Engine) addUserToOrg(ctx context.Context, userID, orgID string) error {
	if err := e.requireOrgMarked(ctx, orgID); err != nil {
		return fmt.Errorf("add user %s to organization %s: %w", userID, orgID, err)
	}

	err := e.fanOut(ctx, "add user", func(ctx context.Context, c Connector) error {
		return c.AddUserToOrg(ctx, userID, orgID)
	})
	if err != nil {
		return fmt.Errorf("add user %s to organization %s: %w", userID, orgID, err)
	}

	if err := e.ledger.MarkUser(ctx, orgID, userID); err != nil {
		return fmt.Errorf("add user %s to organization %s: %w", userID, orgID, err)
	}

	zerolog.Ctx(ctx).Info().Str("org_id", orgID).Str("user_id", userID).Msg("User provisioned")

	return nil
}

func (e *Engine) requireOrgMarked(ctx context.Context, orgID string) error {
	marked, err := e.ledger.IsOrgMarked(ctx, orgID)
	if err != nil {
		return err
	}
	if !marked {
		return fmt.Errorf("%w: organization is not synchronized", ErrPreconditionFailed)
	}
	return nil
}

// provisionedOrgState reports orgID right after it was marked. The
// control-plane listing only adds the name and users; failing to read it is
// logged, never returned, since the change is already committed.
func (e *Engine) provisionedOrgState(ctx context.Context, orgID, name string) *models.OrgState {
	logger := zerolog.Ctx(ctx).With().Str("org_id", orgID).Logger()
	fallback := &models.OrgState{GUID: orgID, Name: name, Synchronized: true, Users: []models.UserState{}}

	org, err := e.findOrganization(ctx, orgID)
	if err != nil {
		logger.Debug().Err(err).Msg("Organization not listed by the control-plane")
		return fallback
	}
	if name != "" {
		org.Name = name
	}

	state, err := e.orgState(ctx, org)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read organization state after provisioning")
		fallback.Name = org.Name
		return fallback
	}
	return state
}

// provisionedUserState reports userID right after it was marked, taking the
// name from the control-plane listing when it has one.
func (e *Engine) provisionedUserState(ctx context.Context, orgID, userID string) *models.UserState {
	state := &models.UserState{GUID: userID, Synchronized: true}

	users, err := controlplane.ListUsers(ctx, e.controlPlane, orgID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("org_id", orgID).Str("user_id", userID).
			Msg("Failed to list users after provisioning")
		return state
	}
	if user, ok := models.FindUser(users, userID); ok {
		state.Name = user.Name
	}
	return state
}

func (e *Engine) findOrganization(ctx context.Context, orgID string) (models.Organization, error) {
	orgs, err := controlplane.ListOrganizations(ctx, e.controlPlane)
	if err != nil {
		return models.Organization{}, err
	}

	org, ok := models.FindOrganization(orgs, orgID)
	if !ok {
		return models.Organization{}, fmt.Errorf("%w: organization", ErrNotFound)
	}
	return org, nil
}

func (e *Engine) orgState(ctx context.Context, org models.Organization) (*models.OrgState, error) {
	marked, err := e.ledger.IsOrgMarked(ctx, org.GUID)
	if err != nil {
		return nil, err
	}

	users, err := controlplane.ListUsers(ctx, e.controlPlane, org.GUID)
	if err != nil {
		return nil, err
	}

	state := &models.OrgState{
		GUID:         org.GUID,
		Name:         org.Name,
		Synchronized: marked,
		Users:        make([]models.UserState, 0, len(users)),
	}
	for _, user := range users {
		userMarked := false
		if marked {
			if userMarked, err = e.ledger.IsUserMarked(ctx, org.GUID, user.GUID); err != nil {
				return nil, err
			}
		}
		state.Users = append(state.Users, models.UserState{GUID: user.GUID, Name: user.Name, Synchronized: userMarked})
	}

	return state, nil
}
