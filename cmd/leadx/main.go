// Command leadx runs the lead exchange: the HTTP API, the batch worker and
// the operator maintenance commands.
//
// @title                       Lead Exchange API
// @version                     1.0
// @description                 Partner lead ingestion, deduplication and marketplace settlement.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  PartnerID
// @in                          header
// @name                        X-Partner-ID
// @securityDefinitions.apikey  WorkspaceID
// @in                          header
// @name                        X-Workspace-ID
// @securityDefinitions.apikey  AdminBearer
// @in                          header
// @name                        Authorization
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// instance carries the loaded configuration to subcommands.
type instance struct {
	cfg config.Config
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		log.Error().Interface("panic", rec).Msg("leadx crashed")
		os.Exit(1)
	}
}

// preRun loads configuration and the logger before any subcommand runs.
func preRun(in *instance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cmd.Name(), version)
		in.cfg = cfg
		return nil
	}
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *CLI {
	in := &instance{}
	root := &cobra.Command{
		Use:           "leadx",
		Short:         "Partner lead exchange",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentPreRunE = preRun(in)

	root.AddCommand(serveCommand(in))
	root.AddCommand(workerCommand(in))
	root.AddCommand(reconcileCommand(in))
	root.AddCommand(batchesCommand(in))
	root.AddCommand(migrateCommand(in))

	return &CLI{cmd: root}
}

func (c *CLI) execute() error {
	return c.cmd.Execute()
}

func main() {
	defer recoverPanic()

	if err := NewCLI().execute(); err != nil {
		log.Error().Err(err).Msg("leadx")
		os.Exit(1)
	}
}
