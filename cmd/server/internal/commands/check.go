package commands

import (
	"github.com/wolfeidau/orgsync/internal/config"
	"github.com/wolfeidau/orgsync/internal/logger"
)

type CheckCmd struct {
	Config string `arg:"" help:"path to the YAML configuration file" type:"existingfile"`
}

func (c *CheckCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	for _, conn := range cfg.Connectors {
		log.Info().Str("connector", conn.Name).Str("type", conn.Type).Msg("Connector valid")
	}
	log.Info().
		Str("ledger_root", cfg.Ledger.Root).
		Int("connectors", len(cfg.Connectors)).
		Msg("Configuration is valid")

	return nil
}
