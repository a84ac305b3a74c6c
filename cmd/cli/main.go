package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/orgsync/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		State      commands.StateCmd      `cmd:"" help:"Show organizations and users with their synchronization state"`
		Ledger     commands.LedgerCmd     `cmd:"" help:"Show the provisioning ledger"`
		AddOrg     commands.AddOrgCmd     `cmd:"" help:"Provision an organization"`
		RemoveOrg  commands.RemoveOrgCmd  `cmd:"" help:"Deprovision an organization and its users"`
		AddUser    commands.AddUserCmd    `cmd:"" help:"Provision a user inside an organization"`
		RemoveUser commands.RemoveUserCmd `cmd:"" help:"Deprovision a user from an organization"`
		Sync       commands.SyncCmd       `cmd:"" help:"Synchronize every organization and user"`
		Poll       commands.PollCmd       `cmd:"" help:"Show the result of a job"`
		Debug      bool                   `help:"Enable debug mode."`
		Version    kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
