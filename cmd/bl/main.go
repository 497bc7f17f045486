package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/fairness"
	"bountyline/internal/repo"
	"bountyline/internal/report"
	"bountyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline distributes challenge bounties across contributors and keeps a
hash-verifiable audit trail of every state change.
Core concepts:
- Workspace: your .bountyline directory with the local database; configuration lives in bountyline.yml.
- Challenge: a posted task with a bounty, owned by its sponsor; statuses go open -> in_progress -> completed (closed is an exit).
- Contribution: a unit of work by a contributor, weighted by category (code, review, design, ...).
- Split: the weight-proportional bounty division; remainder cents go to the largest fractional shares so totals always reconcile.
- Payment: one pending payout per contributor, settled later by an external collaborator.
- Fairness: Gini-based concentration audit over a completed distribution, with flags and a score.
- Event log: append-only diary with content hashes, view with 'bl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("marketplace", "", "marketplace id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("marketplace", rootCmd.PersistentFlags().Lookup("marketplace"))
}

func registerCommands() {
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(contributeCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(fairnessCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(certificateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func challengeCmd() *cobra.Command {
	ch := &cobra.Command{Use: "challenge", Short: "Manage challenges"}
	ch.AddCommand(challengeCreateCmd())
	ch.AddCommand(challengeListCmd())
	ch.AddCommand(challengeShowCmd())
	ch.AddCommand(challengeCloseCmd())
	return ch
}

func challengeCreateCmd() *cobra.Command {
	var id, title, desc, bounty string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(bounty)
			if err != nil {
				return fmt.Errorf("--bounty must be a decimal amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateChallenge(ctx, engine.ChallengeCreateOptions{
					ID:          id,
					Title:       title,
					Description: desc,
					Bounty:      amount,
					SponsorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "challenge id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&bounty, "bounty", "", "bounty amount, e.g. 1000.00")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("bounty")
	return cmd
}

func challengeListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListChallenges(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Bounty", "Sponsor"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Bounty.String() + " " + c.Currency, c.SponsorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (open, in_progress, completed, closed)")
	return cmd
}

func challengeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a challenge with its contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetChallenge(ctx, args[0])
				if err != nil {
					return err
				}
				contributions, err := e.Repo.ListContributions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"challenge":     c,
					"contributions": contributions,
				})
			})
		},
	}
	return cmd
}

func challengeCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a challenge without paying out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CloseChallenge(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contributeCmd() *cobra.Command {
	var challengeID, contributorID, category, summary string
	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Record a contribution on a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contributorID == "" {
				contributorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddContribution(ctx, engine.ContributionCreateOptions{
					ChallengeID:   challengeID,
					ContributorID: contributorID,
					Category:      category,
					Summary:       summary,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&challengeID, "challenge", "", "challenge id")
	cmd.Flags().StringVar(&contributorID, "contributor", "", "contributor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&category, "category", "", "contribution category (code, review, design, docs, triage, testing)")
	cmd.Flags().StringVar(&summary, "summary", "", "short description of the work")
	_ = cmd.MarkFlagRequired("challenge")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <challenge-id>",
		Short: "Preview the bounty split without creating payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				splits, err := e.PreviewSplit(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(splits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Contributor", "Weight", "Share %", "Amount"})
				for _, s := range splits {
					tw.AppendRow(table.Row{s.ContributorID, s.Weight, fmt.Sprintf("%.2f", s.Percentage), s.Amount.String()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func completeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <challenge-id>",
		Short: "Complete a challenge and distribute its bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.CompleteChallenge(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				fmt.Printf("Challenge %s completed: %s %s across %d payments\n",
					result.Challenge.ID, result.Summary.TotalAmount.String(), result.Summary.Currency, result.Summary.RecipientCount)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Payment", "Contributor", "Amount", "Status"})
				for _, p := range result.Payments {
					tw.AppendRow(table.Row{p.ID, p.ContributorID, p.Amount.String(), p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func fairnessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fairness <challenge-id>",
		Short: "Audit a completed distribution for fairness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AuditFairness(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("Gini: %.4f  Score: %.4f  Rating: %s\n", a.Gini, a.Score, a.Category)
				threshold := e.Config.Fairness.Threshold
				if fairness.PassesThreshold(a.Score, threshold) {
					fmt.Println("Threshold: passed")
				} else {
					fmt.Println("Threshold: failed")
				}
				printFlags("Red", a.RedFlags)
				printFlags("Yellow", a.YellowFlags)
				printFlags("Green", a.GreenFlags)
				return nil
			})
		},
	}
	return cmd
}

func printFlags(label string, flags []string) {
	if len(flags) == 0 {
		return
	}
	fmt.Printf("%s flags:\n", label)
	for _, f := range flags {
		fmt.Printf("  - %s\n", f)
	}
}

func paymentCmd() *cobra.Command {
	p := &cobra.Command{Use: "payment", Short: "Inspect and settle payments"}
	p.AddCommand(paymentListCmd())
	p.AddCommand(paymentSettleCmd())
	return p
}

func paymentListCmd() *cobra.Command {
	var challengeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments for a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPayments(ctx, challengeID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Contributor", "Amount", "Currency", "Status", "Ref"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ContributorID, p.Amount.String(), p.Currency, p.Status, p.SettlementRef})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&challengeID, "challenge", "", "challenge id")
	_ = cmd.MarkFlagRequired("challenge")
	return cmd
}

func paymentSettleCmd() *cobra.Command {
	var status, ref string
	cmd := &cobra.Command{
		Use:   "settle <payment-id>",
		Short: "Apply an external settlement outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SettlePayment(ctx, args[0], status, ref, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.PaymentCompleted, "outcome (completed, failed)")
	cmd.Flags().StringVar(&ref, "ref", "", "settlement reference from the payment provider")
	return cmd
}

func certificateCmd() *cobra.Command {
	var hashes []string
	cmd := &cobra.Command{
		Use:   "certificate <challenge-id>",
		Short: "Assemble the verifiable completion certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileHashes, err := parseFileHashes(hashes)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cert, err := report.Build(ctx, e, args[0], fileHashes)
				if err != nil {
					return err
				}
				return printJSON(cert)
			})
		},
	}
	cmd.Flags().StringArrayVar(&hashes, "file-hash", nil, "deliverable hash as name=sha256hex (repeatable)")
	return cmd
}

func parseFileHashes(raw []string) ([]report.FileHash, error) {
	var out []report.FileHash
	for _, h := range raw {
		name, hash, ok := strings.Cut(h, "=")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid --file-hash %q, expected name=sha256hex", h)
		}
		out = append(out, report.FileHash{Filename: name, Hash: hash})
	}
	return out, nil
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the audit trail"}
	lg.AddCommand(logTailCmd())
	lg.AddCommand(logTrailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var actorID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Event
					err   error
				)
				if actorID != "" {
					items, err = e.Events.ByActor(ctx, actorID, n)
				} else {
					items, err = e.Events.Recent(ctx, n)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func logTrailCmd() *cobra.Command {
	var entityKind string
	cmd := &cobra.Command{
		Use:   "trail <entity-id>",
		Short: "Chronological trail for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.Trail(ctx, entityKind, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&entityKind, "kind", "challenge", "entity kind (challenge, contribution, payment)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var marketplaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bountyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(marketplaceID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&marketplaceID, "marketplace", "local", "marketplace id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK:", path)
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			secret := uuid.NewString()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key := domain.APIKey{
					ID:      "key-" + uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The clear-text key is only printed once.
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Open(workspace, viper.GetString("marketplace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("BOUNTYLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("BOUNTYLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bountyline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Open(viper.GetString("workspace"), viper.GetString("marketplace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
