package commands

import (
	"context"
	"fmt"
)

type SyncCmd struct {
	ClientFlags ClientFlags `embed:""`
}

func (s *SyncCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := s.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	snapshot, err := c.Synchronize(ctx)
	if err != nil {
		return fmt.Errorf("failed to synchronize: %w", err)
	}

	if s.ClientFlags.JSON {
		return s.ClientFlags.printJSON(snapshot)
	}
	printSnapshot(snapshot)
	return nil
}
