package commands

import (
	"context"
	"encoding/json"
	"fmt"
)

type PollCmd struct {
	ClientFlags ClientFlags `embed:""`

	JobID string `arg:"" help:"Job ID returned by an accepted request"`
	Wait  bool   `help:"Wait until the job finishes" default:"false"`
}

func (p *PollCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, c, err := p.ClientFlags.connect(ctx, globals)
	if err != nil {
		return err
	}

	var result json.RawMessage
	if err := c.Job(ctx, p.JobID, p.Wait, &result); err != nil {
		return err
	}

	if len(result) == 0 {
		fmt.Fprintf(stdout, "Job %s finished\n", p.JobID)
		return nil
	}
	return p.ClientFlags.printJSON(result)
}
