// Package controlplane lists the organizations and users that exist upstream.
// The control-plane is the source of truth the engine reconciles against; its
// listings are paginated with pages numbered from 1.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/orgsync/internal/models"
)

var ErrInvalidPage = errors.New("invalid next page")

// Page is one page of a listing. Next is the number of the following page,
// zero on the last page.
type Page[T any] struct {
	Items []T
	Next  int
}

// Client fetches single pages of the control-plane listings.
type Client interface {
	Organizations(ctx context.Context, page int) (Page[models.Organization], error)
	Users(ctx context.Context, orgID string, page int) (Page[models.User], error)
}

// ListOrganizations returns every organization, following pages until the
// last one.
func ListOrganizations(ctx context.Context, c Client) ([]models.Organization, error) {
	orgs, err := collect(ctx, c.Organizations)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// ListUsers returns every user of orgID, following pages until the last one.
func ListUsers(ctx context.Context, c Client, orgID string) ([]models.User, error) {
	users, err := collect(ctx, func(ctx context.Context, page int) (Page[models.User], error) {
		return c.Users(ctx, orgID, page)
	})
	if err != nil {
		return nil, fmt.Errorf("list users of organization %s: %w", orgID, err)
	}
	return users, nil
}

func collect[T any](ctx context.Context, fetch func(ctx context.Context, page int) (Page[T], error)) ([]T, error) {
	var all []T
	for page := 1; page != 0; {
		p, err := fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, p.Items...)

		if p.Next != 0 && p.Next <= page {
			return nil, fmt.Errorf("%w: page %d points back to page %d", ErrInvalidPage, page, p.Next)
		}
		page = p.Next
	}
	return all, nil
}
