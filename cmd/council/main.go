package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/council/pkg/classify"
	"github.com/zen-systems/council/pkg/config"
	"github.com/zen-systems/council/pkg/council"
)

var (
	configFile string
	archiveDir string
	logLevel   string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "council",
		Short: "Multi-model deliberation with a classification gate",
		Long: `Council answers a query either directly through a single arbiter model
	or by running the question past a council of models for one or more
	rounds, where each round sees the previous round's answers.

	A local pattern classifier decides the path; uncertain queries are
	escalated to the arbiter model for a second opinion.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&archiveDir, "archive", "", "archive directory (default ~/.council/archive)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and circuit breaker summary")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sessionsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var (
		searchContext string
		strategy      string
		jsonOutput    bool
		noArchive     bool
		showMetrics   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Classify a query and answer it directly or by council",
		Long: `Classifies the query and either answers it with the arbiter model or
	runs council rounds over the configured models.

	Use --strategy multi_round to let council members refine their answers
	against each other. Use --context to pass search results into the first
	round.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			a, err := newApp(cmd.Context(), withStrategy(strategy))
			if err != nil {
				return err
			}
			defer a.close()

			session, err := a.council.Deliberate(cmd.Context(), query, searchContext)
			if session != nil && !noArchive {
				archiveSession(a, session)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(session); err != nil {
					return err
				}
			} else {
				printSession(os.Stdout, os.Stderr, session)
			}

			if verbose {
				printBreaker(os.Stderr, a)
			}
			if showMetrics {
				return a.writeMetrics(os.Stderr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&searchContext, "context", "", "search context to include in the first round")
	cmd.Flags().StringVar(&strategy, "strategy", "", "council strategy (simple, multi_round)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full session as JSON")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "do not archive the session")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "dump collected metrics to stderr")

	return cmd
}

func archiveSession(a *app, session *council.Session) {
	store, err := a.openArchive()
	if err != nil {
		a.logger.Warn("archive unavailable", zap.Error(err))
		return
	}
	ref, err := store.SaveSession(session)
	if err != nil {
		a.logger.Warn("failed to archive session", zap.String("session", session.ID), zap.Error(err))
		return
	}
	a.logger.Debug("session archived", zap.String("session", session.ID), zap.String("sha256", ref.SHA256))
}

func printSession(out, status io.Writer, session *council.Session) {
	d := session.Decision
	fmt.Fprintf(status, "Decision: %s (%.2f, %s) %s\n", d.Type, d.Confidence, d.Tier, d.Reasoning)

	if session.Answer != "" {
		fmt.Fprintf(status, "Answered by %s\n\n", session.AnsweredBy)
		fmt.Fprintln(out, session.Answer)
		return
	}

	fmt.Fprintf(status, "Council: %s, %d round(s)\n\n", session.Strategy, len(session.Rounds))
	for _, r := range session.Final {
		fmt.Fprintf(out, "=== %s ===\n", r.Model)
		if r.Error || r.Response == nil {
			fmt.Fprintf(out, "error: %s\n\n", r.ErrorMessage)
			continue
		}
		fmt.Fprintf(out, "%s\n\n", *r.Response)
	}
	tokens := 0
	if session.Usage != nil {
		tokens = session.Usage.TotalTokens
	}
	fmt.Fprintf(status, "%d/%d models answered, %d tokens\n",
		len(session.Successful()), len(session.Final), tokens)
}

func printBreaker(w io.Writer, a *app) {
	snapshot := a.breaker.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATE\tFAILURES")
	for _, p := range snapshot {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.Provider, p.State, p.Failures)
	}
	tw.Flush()
}

func classifyCmd() *cobra.Command {
	var escalate bool

	cmd := &cobra.Command{
		Use:   "classify [query]",
		Short: "Show how a query would be routed",
		Long: `Runs the local pattern classifier and the fast gate on a query without
	answering it. Use --escalate to consult the arbiter model when the fast
	gate is uncertain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result := a.classifier.Classify(query)
			rec := classify.Recommend(result)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "CATEGORY\t%s\n", result.Category)
			fmt.Fprintf(w, "CONFIDENCE\t%.2f\n", result.Confidence)
			fmt.Fprintf(w, "INDICATORS\t%s\n", formatList(result.Indicators))
			fmt.Fprintf(w, "STRATEGY\t%s\n", rec.Strategy)
			fmt.Fprintf(w, "EXPLANATION\t%s\n", rec.Explanation)

			gate := a.router.Gate().FastClassify(query)
			certainty := "uncertain"
			if gate.Certain {
				certainty = "certain"
			}
			fmt.Fprintf(w, "FAST GATE\t%s (%.2f, %s)\n", gate.Type, gate.Confidence, certainty)

			if escalate {
				d := a.router.Classify(cmd.Context(), query)
				fmt.Fprintf(w, "DECISION\t%s (%.2f, %s)\n", d.Type, d.Confidence, d.Tier)
				fmt.Fprintf(w, "REASONING\t%s\n", d.Reasoning)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&escalate, "escalate", false, "consult the arbiter when the fast gate is uncertain")
	return cmd
}

func modelsCmd() *cobra.Command {
	var (
		showAliasesFlag bool
		showProviders   bool
		validateFlag    bool
		resolve         string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters and model aliases",
		Long: `Lists configured adapters and their models.

	Use --aliases to show the alias table, --providers to show known provider
	models, --resolve to expand one alias, and --validate to check the routing
	config against known models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolve != "" {
				if !cfg.Aliases.IsAlias(resolve) {
					fmt.Fprintf(os.Stderr, "%s is not an alias\n", resolve)
				}
				fmt.Println(cfg.Aliases.Resolve(resolve))
				return nil
			}
			if showAliasesFlag {
				return showAliases(cfg.Aliases)
			}
			if showProviders {
				return showProviderModels(os.Stdout, cfg.Aliases)
			}
			if validateFlag {
				return validateRouting(cfg)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADAPTER\tMODELS\tSTATUS")
			for _, info := range a.registry.Infos() {
				status := "ready"
				if !info.Ready {
					status = "unavailable"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, formatList(info.Models), status)
			}
			w.Flush()

			fmt.Println()
			fmt.Printf("Council: %s\n", formatList(cfg.CouncilModels()))
			fmt.Printf("Arbiter: %s\n", cfg.ArbiterModel())
			return nil
		},
	}

	cmd.Flags().BoolVar(&showAliasesFlag, "aliases", false, "show model aliases")
	cmd.Flags().BoolVar(&showProviders, "providers", false, "show known models per provider")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "validate routing config models")
	cmd.Flags().StringVar(&resolve, "resolve", "", "resolve an alias to its canonical model id")

	return cmd
}

func showAliases(aliases *config.ModelAliases) error {
	list := aliases.ListAliases()
	names := make([]string, 0, len(list))
	for name := range list {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
	for _, alias := range names {
		model := list[alias]
		provider := model
		if i := strings.Index(model, "/"); i > 0 {
			provider = model[:i]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, provider)
	}
	return w.Flush()
}

func showProviderModels(out io.Writer, aliases *config.ModelAliases) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODELS")
	for _, provider := range aliases.ListProviders() {
		fmt.Fprintf(w, "%s\t%s\n", provider, strings.Join(aliases.GetProviderModels(provider), ", "))
	}
	return w.Flush()
}

func validateRouting(cfg *config.Config) error {
	errs := cfg.Aliases.ValidateRoutingConfig(cfg.RoutingConfig)
	if len(errs) == 0 {
		fmt.Println("Routing config is valid")
		return nil
	}
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %v\n", err)
	}
	return fmt.Errorf("routing config has %d error(s)", len(errs))
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Prints the effective routing configuration after defaults and environment
	overrides, followed by which providers have credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out, err := yaml.Marshal(cfg.RoutingConfig)
			if err != nil {
				return err
			}
			fmt.Printf("# config dir: %s\n", cfg.ConfigDir)
			os.Stdout.Write(out)

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCREDENTIAL")
			for _, p := range []struct{ name, value string }{
				{"openrouter", cfg.OpenRouterAPIKey},
				{"anthropic", cfg.AnthropicAPIKey},
				{"openai", cfg.OpenAIAPIKey},
				{"google", cfg.GoogleAPIKey},
				{"deepseek", cfg.DeepSeekAPIKey},
				{"ollama", cfg.OllamaBaseURL},
			} {
				fmt.Fprintf(w, "%s\t%s\n", p.name, maskSecret(p.value))
			}
			return w.Flush()
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "List archived sessions or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := &app{}
			store, err := a.openArchive()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				session, err := store.LoadSession(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(session)
			}

			entries, err := store.ListSessions()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tDECISION\tROUNDS\tQUERY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					e.SessionID, e.CreatedAt.Format("2006-01-02 15:04"), e.Decision, e.Rounds, truncate(e.Query, 60))
			}
			return w.Flush()
		},
	}
	return cmd
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "-"
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	if len(items) <= 3 {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:3], ", ") + fmt.Sprintf(" (+%d more)", len(items)-3)
}
