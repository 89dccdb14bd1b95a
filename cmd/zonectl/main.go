// zonectl runs the zone engine offline against snapshot files and helps operate
// the service (gate checks, diagnostics tokens, sample configuration).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"zone-position-engine/config"
	"zone-position-engine/internal/auth"
	"zone-position-engine/internal/engine"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/orchestrator"
	"zone-position-engine/internal/risk"
	"zone-position-engine/internal/source"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
	jsonOut    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "zonectl",
		Short:         "Zone position engine operator CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigFile, "configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", ".env file (ignored when missing)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine internals to stderr")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(analyzeCmd(opts))
	root.AddCommand(zonesCmd(opts))
	root.AddCommand(gateCmd(opts))
	root.AddCommand(tokenCmd(opts))
	root.AddCommand(sampleConfigCmd())
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	config.LoadEnvFiles(o.envFile)
	return config.Load(o.configPath)
}

func (o *rootOptions) logger(cfg *config.Config) *logging.Logger {
	if !o.verbose {
		return logging.Nop()
	}
	return logging.New(&logging.Config{Level: "DEBUG", Writer: os.Stderr, Component: "zonectl", JSONFormat: cfg.Logging.JSONFormat})
}

func (o *rootOptions) paperEngine(cfg *config.Config) (*engine.Engine, error) {
	return engine.NewPaper(cfg.Engine, o.logger(cfg))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadSnapshot(cmd *cobra.Command, path string) (orchestrator.Snapshot, error) {
	if path == "" {
		return orchestrator.Snapshot{}, fmt.Errorf("--snapshot is required")
	}
	snap, err := source.Load(path)
	if err != nil {
		return snap, err
	}
	for _, w := range source.Warnings(snap) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return snap, nil
}

func analyzeCmd(opts *rootOptions) *cobra.Command {
	var snapshotPath string
	var execute bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one closing decision against a snapshot",
		Example: `  zonectl analyze --snapshot positions.json
  zonectl analyze --snapshot positions.yaml --execute --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, snapshotPath)
			if err != nil {
				return err
			}
			eng, err := opts.paperEngine(cfg)
			if err != nil {
				return err
			}
			eng.Paper.SetPositions(snap.Positions)

			d := eng.Orchestrator.ShouldClosePositions(cmd.Context(), snap)
			out := cmd.OutOrStdout()

			result := map[string]interface{}{"decision": d}
			if execute && d.ShouldClose {
				res, err := eng.Orchestrator.Execute(cmd.Context(), d)
				if err != nil {
					return fmt.Errorf("executing decision: %w", err)
				}
				result["execution"] = res
			}
			if opts.jsonOut {
				return writeJSON(out, result)
			}

			fmt.Fprintf(out, "Decision %s\n", d.DecisionID)
			fmt.Fprintf(out, "  close:    %v\n", d.ShouldClose)
			fmt.Fprintf(out, "  method:   %s\n", d.Method)
			fmt.Fprintf(out, "  reason:   %s\n", d.Reason)
			if d.ShouldClose {
				fmt.Fprintf(out, "  tickets:  %v\n", d.Tickets)
				fmt.Fprintf(out, "  expected: %.2f\n", d.ExpectedPnL)
				if d.Gate != nil && d.Gate.Code != "" {
					fmt.Fprintf(out, "  gate:     %s\n", d.Gate.Code)
				}
			}
			if d.GateRejections > 0 {
				fmt.Fprintf(out, "  gate rejections: %d\n", d.GateRejections)
			}
			if res, ok := result["execution"]; ok {
				fmt.Fprintf(out, "\nExecution\n")
				if err := writeJSON(out, res); err != nil {
					return err
				}
			}
			if d.Report != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, d.Report.Render())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot file (.json, .yaml)")
	cmd.Flags().BoolVar(&execute, "execute", false, "execute the decision against the paper gateway")
	return cmd
}

func zonesCmd(opts *rootOptions) *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Show the zone table for a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, snapshotPath)
			if err != nil {
				return err
			}
			eng, err := opts.paperEngine(cfg)
			if err != nil {
				return err
			}

			eng.Zones.UpdateZonesFromPositions(snap.Positions, snap.Price)
			analyses := eng.Analyzer.AnalyzeAllZones(snap.Price)
			rows := orchestrator.BuildZoneRows(eng.Zones, analyses)
			summary := eng.Zones.Summary()

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return writeJSON(out, map[string]interface{}{"summary": summary, "zones": rows})
			}
			fmt.Fprintln(out, orchestrator.RenderZoneTable(rows))
			fmt.Fprintf(out, "%d zones, %d positions, P&L %.2f, width %.2f, base %.2f\n",
				summary.ActiveZones, summary.TotalPositions, summary.TotalPnL, summary.ZoneWidth, summary.BasePrice)
			return nil
		},
	}
	cmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot file (.json, .yaml)")
	return cmd
}

func gateCmd(opts *rootOptions) *cobra.Command {
	var gctx risk.GateContext

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the portfolio-impact gate for a proposed close",
		Example: `  zonectl gate --pnl 500 --realized 20 --open 3 --closing 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Engine.Gate.Validate(); err != nil {
				return err
			}
			d := risk.NewPolicyGate(cfg.Engine.Gate).Evaluate(gctx)

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return writeJSON(out, map[string]interface{}{"context": gctx, "decision": d})
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendRows([]table.Row{
				{"Portfolio P&L", fmt.Sprintf("%.2f", gctx.PortfolioPnL)},
				{"Realized", fmt.Sprintf("%.2f", gctx.RealizedPnL)},
				{"Remaining", fmt.Sprintf("%d of %d", gctx.Remaining(), gctx.OpenPositions)},
				{"Safe", d.Safe},
				{"Code", d.Code},
				{"Reason", d.Reason},
			})
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().Float64Var(&gctx.PortfolioPnL, "pnl", 0, "unrealized P&L of every open position")
	cmd.Flags().Float64Var(&gctx.RealizedPnL, "realized", 0, "P&L the close would book")
	cmd.Flags().IntVar(&gctx.OpenPositions, "open", 0, "open positions")
	cmd.Flags().IntVar(&gctx.ClosingPositions, "closing", 0, "positions the close would take")
	return cmd
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var subject, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the diagnostics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.AccessTokenDuration
			}
			role = strings.ToLower(role)
			if role != auth.RoleViewer && role != auth.RoleOperator {
				return fmt.Errorf("unknown role %q", role)
			}

			m, err := auth.NewJWTManager(auth.Config{
				JWTSecret:           cfg.Auth.JWTSecret,
				Issuer:              cfg.Auth.Issuer,
				AccessTokenDuration: ttl,
			})
			if err != nil {
				return err
			}
			tok, err := m.GenerateAccessToken(auth.OperatorClaims{Subject: subject, Role: role})
			if err != nil {
				return err
			}

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (who the caller is)")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.access_token_duration)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func sampleConfigCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "sample-config",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateSampleConfig(outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "config.sample.json", "output path")
	return cmd
}
