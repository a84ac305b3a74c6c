package commands

import (
	"context"
	"fmt"
)

type AddUserCmd struct {
	ClientFlags ClientFlags `embed:""`

	Org  string `arg:"" help:"Organization GUID"`
	User string `arg:"" help:"User GUID"`
}

func (a *AddUserCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := a.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	user, err := c.AddUserToOrg(ctx, a.User, a.Org)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	if a.ClientFlags.JSON {
		return a.ClientFlags.printJSON(user)
	}
	printUser(user)
	return nil
}

type RemoveUserCmd struct {
	ClientFlags ClientFlags `embed:""`

	Org  string `arg:"" help:"Organization GUID"`
	User string `arg:"" help:"User GUID"`
}

func (r *RemoveUserCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := r.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	if err := c.RemoveUserFromOrg(ctx, r.User, r.Org); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s removed from organization %s\n", r.User, r.Org)
	return nil
}
