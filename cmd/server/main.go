package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/orgsync/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"ORGSYNC_DEBUG"`
		Version kong.VersionFlag
		Server  commands.ServerCmd  `cmd:"" help:"Start the provisioning API server"`
		Migrate commands.MigrateCmd `cmd:"" help:"Run PostgreSQL node store migrations and exit"`
		Check   commands.CheckCmd   `cmd:"" help:"Validate a configuration file and exit"`
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
