// fairctl - command-line front end for the rebalancing decision engine.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/federico-bidone/FAIR-sub001/internal/config"
	"github.com/federico-bidone/FAIR-sub001/internal/database"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/decision"
	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
	"github.com/federico-bidone/FAIR-sub001/pkg/logger"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fairctl",
		Short: "Evaluate rebalancing decisions from the command line",
		Long: `fairctl runs the rebalancing decision pipeline against a scenario
file: lot sizing, trading costs, bootstrap expected-benefit bound,
capital-gains taxes and the final execute/hold gate.`,
	}

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(purgeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fairctl version %s\n", version)
		},
	}
}

func decideCmd() *cobra.Command {
	var useLedger bool

	cmd := &cobra.Command{
		Use:   "decide <scenario.yaml>",
		Short: "Evaluate one decision scenario and print the report as JSON",
		Long: `Evaluate a YAML scenario file through the full pipeline and print
the decision report as JSON.

With --ledger, sell legs in the scenario are priced against the persisted
tax-lot ledger (preview only, nothing is committed). Without it, taxes come
from the scenario's aggregate realized_pnl figures.

Example:
  fairctl decide scenario.yaml
  fairctl decide --ledger scenario.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: "error"})

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read scenario: %w", err)
			}
			var scenario decision.Scenario
			if err := yaml.Unmarshal(raw, &scenario); err != nil {
				return fmt.Errorf("parse scenario: %w", err)
			}

			var ledgerSvc *ledger.Service
			if useLedger {
				db, err := database.New(database.Config{
					Path:    filepath.Join(cfg.DataDir, "ledger.db"),
					Profile: database.ProfileLedger,
					Name:    "ledger",
				})
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				defer db.Close()

				store := ledger.NewStore(db.Conn(), log)
				if err := store.InitSchema(); err != nil {
					return fmt.Errorf("init ledger schema: %w", err)
				}
				ledgerSvc = ledger.NewService(store, log)
			}

			svc := decision.New(
				ledgerSvc,
				cfg.Engine.BootstrapOptions(),
				cfg.Engine.TaxRules(),
				cfg.Engine.DriftBand,
				log,
			)
			report, err := svc.Evaluate(scenario)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&useLedger, "ledger", false, "Price sell legs against the persisted tax-lot ledger")
	return cmd
}

func purgeCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop expired loss-carryforward lots from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: "error"})

			cutoff := time.Now().UTC()
			if asOf != "" {
				cutoff, err = time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
			}

			db, err := database.New(database.Config{
				Path:    filepath.Join(cfg.DataDir, "ledger.db"),
				Profile: database.ProfileLedger,
				Name:    "ledger",
			})
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer db.Close()

			store := ledger.NewStore(db.Conn(), log)
			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("init ledger schema: %w", err)
			}

			dropped, err := ledger.NewService(store, log).PurgeExpired(cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d expired minus lots\n", dropped)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Purge cutoff date (YYYY-MM-DD, default today)")
	return cmd
}
