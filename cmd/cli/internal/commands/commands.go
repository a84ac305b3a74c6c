package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wolfeidau/orgsync/internal/client"
	"github.com/wolfeidau/orgsync/internal/logger"
	"github.com/wolfeidau/orgsync/internal/models"
)

// stdout is replaced in tests.
var stdout io.Writer = os.Stdout

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags are shared by every command talking to the server.
type ClientFlags struct {
	Server      string        `help:"Server URL" default:"http://localhost:8080" env:"ORGSYNC_SERVER"`
	Timeout     time.Duration `help:"Timeout of a single request" default:"1m"`
	PollTimeout time.Duration `help:"How long to wait for an accepted job, 0 prints the job id instead" default:"10m"`
	JSON        bool          `help:"Print JSON instead of a table" default:"false"`
}

func (f *ClientFlags) connect(ctx context.Context, globals *Globals) (context.Context, *client.Client, error) {
	log := logger.Setup(globals.Debug)

	cfg := client.DefaultConfig()
	cfg.ServerURL = f.Server
	cfg.Timeout = f.Timeout
	cfg.PollTimeout = f.PollTimeout

	c, err := client.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	return log.WithContext(ctx), c, nil
}

func (f *ClientFlags) printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncMark(synchronized bool) string {
	if synchronized {
		return "yes"
	}
	return "no"
}

func printSnapshot(snapshot *models.Snapshot) {
	if len(snapshot.Organizations) == 0 {
		fmt.Fprintln(stdout, "No organizations found.")
		return
	}

	fmt.Fprintf(stdout, "%-38s %-30s %-12s\n", "Organization", "Name", "Synchronized")
	fmt.Fprintln(stdout, strings.Repeat("─", 82))

	users := 0
	for _, org := range snapshot.Organizations {
		printOrg(&org)
		users += len(org.Users)
	}

	fmt.Fprintf(stdout, "\nTotal: %d organizations, %d users\n", len(snapshot.Organizations), users)
}

func printOrg(org *models.OrgState) {
	fmt.Fprintf(stdout, "%-38s %-30s %-12s\n", org.GUID, truncate(org.Name, 30), syncMark(org.Synchronized))
	for _, user := range org.Users {
		printUser(&user)
	}
}

func printUser(user *models.UserState) {
	fmt.Fprintf(stdout, "  %-36s %-30s %-12s\n", user.GUID, truncate(user.Name, 30), syncMark(user.Synchronized))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
