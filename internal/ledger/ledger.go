// Package ledger records which organizations and users are currently
// provisioned to every connector.
//
// The ledger is a cache of provisioning state kept in a NodeStore. An
// organization is marked by a node at {root}/{org} and a user by a node at
// {root}/{org}/{user}. The root node's payload holds the ledger version; a
// mismatch at Init wipes the whole subtree, which only forces one extra
// synchronization pass since the control-plane remains the source of truth.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/store"
	"github.com/wolfeidau/orgsync/internal/telemetry"
)

// Version is the ledger layout version compiled into this build. Changing it
// resets every deployed ledger on the next start.
const Version = "2"

const initLockName = "ledger-init"

// Sentinel errors for ledger operations
var (
	ErrLedgerFailure = errors.New("ledger failure")
	ErrInvalidID     = errors.New("invalid identifier")
)

// Ledger tracks provisioning marks under a root path of a NodeStore.
type Ledger struct {
	store store.NodeStore
	root  string
	acl   []store.ACL
}

// New creates a ledger rooted at root. acl is attached to every node the
// ledger creates, in addition to the store defaults.
func New(st store.NodeStore, root string, acl ...store.ACL) *Ledger {
	return &Ledger{
		store: st,
		root:  store.Join(root),
		acl:   acl,
	}
}

// Root returns the ledger root path.
func (l *Ledger) Root() string {
	return l.root
}

// Init prepares the ledger root for expectedVersion. A missing root is created;
// a root holding another version is deleted with all marks and recreated.
// When the store implements store.Locker the check runs under a lock shared by
// every engine instance.
func (l *Ledger) Init(ctx context.Context, expectedVersion string) error {
	if locker, ok := l.store.(store.Locker); ok {
		unlock, err := locker.Lock(ctx, initLockName)
		if err != nil {
			return wrap("init", err)
		}
		defer unlock()
	}

	current, err := l.store.GetData(ctx, l.root)
	switch {
	case errors.Is(err, store.ErrNodeNotFound):
		if err := l.createAncestors(ctx); err != nil {
			return wrap("init", err)
		}
		log.Info().Str("root", l.root).Str("version", expectedVersion).Msg("Creating provisioning ledger")
		return wrap("init", l.store.Create(ctx, l.root, []byte(expectedVersion), l.acl...))
	case err != nil:
		return wrap("init", err)
	}

	if bytes.Equal(current, []byte(expectedVersion)) {
		log.Debug().Str("root", l.root).Str("version", expectedVersion).Msg("Provisioning ledger is current")
		return nil
	}

	log.Warn().
		Str("root", l.root).
		Str("found", string(current)).
		Str("expected", expectedVersion).
		Msg("Provisioning ledger version mismatch, resetting")

	if err := l.store.Delete(ctx, l.root); err != nil {
		return wrap("reset", err)
	}
	if err := l.store.Create(ctx, l.root, []byte(expectedVersion), l.acl...); err != nil {
		return wrap("reset", err)
	}

	telemetry.GetMetrics().LedgerResetsTotal.Add(ctx, 1)

	return nil
}

// Version returns the version stored at the ledger root.
func (l *Ledger) Version(ctx context.Context) (string, error) {
	data, err := l.store.GetData(ctx, l.root)
	if err != nil {
		return "", wrap("version", err)
	}
	return string(data), nil
}

// MarkOrg records that orgID is provisioned.
func (l *Ledger) MarkOrg(ctx context.Context, orgID string) error {
	p, err := l.orgPath(orgID)
	if err != nil {
		return err
	}
	return wrap("mark org "+orgID, l.store.Create(ctx, p, nil, l.acl...))
}

// UnmarkOrg removes the organization mark together with its user marks.
func (l *Ledger) UnmarkOrg(ctx context.Context, orgID string) error {
	p, err := l.orgPath(orgID)
	if err != nil {
		return err
	}
	return wrap("unmark org "+orgID, l.store.Delete(ctx, p))
}

// IsOrgMarked reports whether orgID is provisioned.
func (l *Ledger) IsOrgMarked(ctx context.Context, orgID string) (bool, error) {
	p, err := l.orgPath(orgID)
	if err != nil {
		return false, err
	}
	marked, err := l.store.Exists(ctx, p)
	return marked, wrap("check org "+orgID, err)
}

// MarkUser records that userID is provisioned in orgID. The organization
// mark must exist.
func (l *Ledger) MarkUser(ctx context.Context, orgID, userID string) error {
	p, err := l.userPath(orgID, userID)
	if err != nil {
		return err
	}
	return wrap("mark user "+userID+" in org "+orgID, l.store.Create(ctx, p, nil, l.acl...))
}

// UnmarkUser removes the mark of userID in orgID.
func (l *Ledger) UnmarkUser(ctx context.Context, orgID, userID string) error {
	p, err := l.userPath(orgID, userID)
	if err != nil {
		return err
	}
	return wrap("unmark user "+userID+" in org "+orgID, l.store.Delete(ctx, p))
}

// IsUserMarked reports whether userID is provisioned in orgID.
func (l *Ledger) IsUserMarked(ctx context.Context, orgID, userID string) (bool, error) {
	p, err := l.userPath(orgID, userID)
	if err != nil {
		return false, err
	}
	marked, err := l.store.Exists(ctx, p)
	return marked, wrap("check user "+userID+" in org "+orgID, err)
}

// Orgs lists the marked organization ids.
func (l *Ledger) Orgs(ctx context.Context) ([]string, error) {
	orgs, err := l.store.Children(ctx, l.root)
	return orgs, wrap("list orgs", err)
}

// Users lists the marked user ids of orgID.
func (l *Ledger) Users(ctx context.Context, orgID string) ([]string, error) {
	p, err := l.orgPath(orgID)
	if err != nil {
		return nil, err
	}
	users, err := l.store.Children(ctx, p)
	if errors.Is(err, store.ErrNodeNotFound) {
		return nil, nil
	}
	return users, wrap("list users of org "+orgID, err)
}

// createAncestors creates the nodes above a nested root.
func (l *Ledger) createAncestors(ctx context.Context) error {
	var ancestors []string
	for p := store.Parent(l.root); p != store.Separator; p = store.Parent(p) {
		ancestors = append(ancestors, p)
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		if err := l.store.Create(ctx, ancestors[i], nil, l.acl...); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) orgPath(orgID string) (string, error) {
	if err := validateID(orgID); err != nil {
		return "", err
	}
	return store.Join(l.root, orgID), nil
}

func (l *Ledger) userPath(orgID, userID string) (string, error) {
	if err := validateID(orgID); err != nil {
		return "", err
	}
	if err := validateID(userID); err != nil {
		return "", err
	}
	return store.Join(l.root, orgID, userID), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.Contains(id, store.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrLedgerFailure, op, err)
}
