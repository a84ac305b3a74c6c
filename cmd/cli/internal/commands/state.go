package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/orgsync/internal/client"
)

type StateCmd struct {
	ClientFlags ClientFlags `embed:""`

	Org   string `help:"Only show this organization" default:""`
	User  string `help:"Only show this user, requires --org" default:""`
	Watch bool   `help:"Watch for changes (refresh every 5 seconds)" default:"false"`
}

func (s *StateCmd) Run(ctx context.Context, globals *Globals) error {
	if s.User != "" && s.Org == "" {
		return fmt.Errorf("--user requires --org")
	}

	ctx, c, err := s.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	if s.Watch {
		return s.watch(ctx, c)
	}

	return s.show(ctx, c)
}

func (s *StateCmd) show(ctx context.Context, c *client.Client) error {
	switch {
	case s.User != "":
		user, err := c.UserState(ctx, s.Org, s.User)
		if err != nil {
			return fmt.Errorf("failed to get user state: %w", err)
		}
		if s.ClientFlags.JSON {
			return s.ClientFlags.printJSON(user)
		}
		printUser(user)

	case s.Org != "":
		org, err := c.OrgState(ctx, s.Org)
		if err != nil {
			return fmt.Errorf("failed to get organization state: %w", err)
		}
		if s.ClientFlags.JSON {
			return s.ClientFlags.printJSON(org)
		}
		printOrg(org)

	default:
		snapshot, err := c.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to get state: %w", err)
		}
		if s.ClientFlags.JSON {
			return s.ClientFlags.printJSON(snapshot)
		}
		printSnapshot(snapshot)
	}

	return nil
}

func (s *StateCmd) watch(ctx context.Context, c *client.Client) error {
	fmt.Fprintln(stdout, "Watching state (press Ctrl+C to stop)...")
	fmt.Fprintln(stdout)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	if err := s.show(ctx, c); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprint(stdout, "\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Fprintf(stdout, "State (updated at %s)\n\n", time.Now().Format("15:04:05"))

			if err := s.show(ctx, c); err != nil {
				fmt.Fprintf(stdout, "Error updating state: %v\n", err)
			}
		}
	}
}
