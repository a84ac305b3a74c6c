package commands

import (
	"context"
	"fmt"
)

type AddOrgCmd struct {
	ClientFlags ClientFlags `embed:""`

	Org  string `arg:"" help:"Organization GUID"`
	Name string `help:"Organization display name, defaults to the control-plane listing"`
}

func (a *AddOrgCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := a.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	org, err := c.AddOrganization(ctx, a.Org, a.Name)
	if err != nil {
		return fmt.Errorf("failed to add organization: %w", err)
	}

	if a.ClientFlags.JSON {
		return a.ClientFlags.printJSON(org)
	}
	printOrg(org)
	return nil
}

type RemoveOrgCmd struct {
	ClientFlags ClientFlags `embed:""`

	Org string `arg:"" help:"Organization GUID"`
}

func (r *RemoveOrgCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := r.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	if err := c.RemoveOrganization(ctx, r.Org); err != nil {
		return fmt.Errorf("failed to remove organization: %w", err)
	}

	fmt.Fprintf(stdout, "Organization %s removed\n", r.Org)
	return nil
}
