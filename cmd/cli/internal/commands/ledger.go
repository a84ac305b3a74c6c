package commands

import (
	"context"
	"fmt"
)

type LedgerCmd struct {
	ClientFlags ClientFlags `embed:""`
}

func (l *LedgerCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := l.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	info, err := c.Ledger(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	if l.ClientFlags.JSON {
		return l.ClientFlags.printJSON(info)
	}

	fmt.Fprintf(stdout, "Ledger %s (version %s)\n", info.Root, info.Version)
	if len(info.Organizations) == 0 {
		fmt.Fprintln(stdout, "No organizations marked.")
		return nil
	}
	for _, org := range info.Organizations {
		fmt.Fprintf(stdout, "  %s\n", org)
	}
	return nil
}
