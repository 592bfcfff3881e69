package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"EpiScanner/internal/app"
	"EpiScanner/internal/config"
	"EpiScanner/internal/domain"
	"EpiScanner/internal/usecase"
)

var (
	heading = color.New(color.Bold)
	warn    = color.New(color.FgYellow)
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "episcanner",
		Short:         "Ingest infectious-disease bulletins into a normalized fact store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCrawlCmd(),
		newSuggestionsCmd(),
		newApproveCmd(),
		newEntitiesCmd(),
		newMappingsCmd(),
		newStatsCmd(),
		newMigrateCmd(),
	)
	return root
}

// withApp loads configuration, wires the application, runs fn, and tears
// down.
func withApp(ctx context.Context, mutate func(*config.Config), fn func(context.Context, *app.App) error) error {
	cfg := config.Load()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parseScopeFlag turns "CN_zh" into a scope.
func parseScopeFlag(value string) (domain.Scope, error) {
	country, language, ok := strings.Cut(value, "_")
	if !ok || country == "" || language == "" {
		return domain.Scope{}, fmt.Errorf("scope must look like CN_zh, got %q", value)
	}
	return domain.Scope{Country: country, Language: language}, nil
}

func newCrawlCmd() *cobra.Command {
	var (
		force      bool
		sourceName string
		country    string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Discover new bulletins and ingest their tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(cfg *config.Config) {
				if country != "" {
					cfg.Ingest.Country = country
				}
			}, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Run(ctx, usecase.RunOptions{
					Force:        force,
					SourceFilter: sourceName,
				})
				printReport(report)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest bulletins at or below the high-water mark")
	cmd.Flags().StringVar(&sourceName, "source", "", "restrict the run to one configured source")
	cmd.Flags().StringVar(&country, "country", "", "override the configured run country")
	return cmd
}

func printReport(report domain.RunReport) {
	heading.Println("Crawl report")
	fmt.Printf("  discovered       %d\n", report.Discovered)
	fmt.Printf("  new              %d\n", report.NewItems)
	fmt.Printf("  skipped          %d\n", report.SkippedItems)
	if report.FailedItems > 0 {
		bad.Printf("  failed           %d\n", report.FailedItems)
	}
	fmt.Printf("  rows extracted   %d\n", report.Summary.RowsExtracted)
	fmt.Printf("  rows resolved    %d\n", report.Summary.RowsResolved)
	if report.Summary.RowsUnresolved > 0 {
		warn.Printf("  rows unresolved  %d\n", report.Summary.RowsUnresolved)
	}
	good.Printf("  facts written    %d\n", report.Summary.FactsWritten)
	if report.PendingSuggestions > 0 {
		warn.Printf("  pending suggestions: %d (run 'episcanner suggestions')\n", report.PendingSuggestions)
	}
}

func newSuggestionsCmd() *cobra.Command {
	var (
		scopeFlag string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "List unresolved disease names awaiting curation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				suggestions, err := a.Mappings.PendingSuggestions(ctx, scope, limit)
				if err != nil {
					return err
				}
				if len(suggestions) == 0 {
					good.Printf("no pending suggestions for %s\n", scope)
					return nil
				}
				heading.Printf("Pending suggestions for %s\n", scope)
				for _, s := range suggestions {
					fmt.Printf("  %-40s seen %3d times, last %s\n",
						s.LocalName, s.OccurrenceCount, s.LastSeenAt.Format(time.DateOnly))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "CN_zh", "scope key, e.g. CN_zh")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to list")
	return cmd
}

func newApproveCmd() *cobra.Command {
	var scopeFlag string
	cmd := &cobra.Command{
		Use:   "approve <local-name> <entity-id>",
		Short: "Promote a pending suggestion into a live mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				if err := a.Resolver.ApproveSuggestion(ctx, scope, args[0], args[1]); err != nil {
					return err
				}
				good.Printf("approved: %q now maps to %s in %s\n", args[0], args[1], scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "CN_zh", "scope key, e.g. CN_zh")
	return cmd
}

func newEntitiesCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "entities",
		Short: "Manage the canonical disease vocabulary",
	}

	var entity domain.CanonicalEntity
	add := &cobra.Command{
		Use:   "add <id> <name-en>",
		Short: "Add or update a canonical entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity.ID, entity.NameEn = args[0], args[1]
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				if err := a.Resolver.AddEntity(ctx, entity); err != nil {
					return err
				}
				good.Printf("entity %s (%s) saved\n", entity.ID, entity.NameEn)
				return nil
			})
		},
	}
	add.Flags().StringVar(&entity.NameLocal, "name-local", "", "local-language name")
	add.Flags().StringVar(&entity.Category, "category", "", "disease category")
	add.Flags().StringVar(&entity.ICD10, "icd10", "", "ICD-10 code")
	add.Flags().StringVar(&entity.ICD11, "icd11", "", "ICD-11 code")

	parent.AddCommand(add)
	return parent
}

func newMappingsCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "mappings",
		Short: "Manage local-name mappings",
	}

	var (
		scopeFlag string
		alias     bool
		priority  int
	)
	add := &cobra.Command{
		Use:   "add <local-name> <entity-id>",
		Short: "Map a local disease name to a canonical entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				mapping := domain.LocalMapping{
					Scope:     scope,
					LocalName: args[0],
					EntityID:  args[1],
					IsPrimary: !alias,
					IsAlias:   alias,
					Priority:  priority,
				}
				if err := a.Resolver.AddMapping(ctx, mapping); err != nil {
					return err
				}
				good.Printf("mapping %q -> %s saved in %s\n", args[0], args[1], scope)
				return nil
			})
		},
	}
	add.Flags().StringVar(&scopeFlag, "scope", "CN_zh", "scope key, e.g. CN_zh")
	add.Flags().BoolVar(&alias, "alias", false, "register as an alias, not the primary name")
	add.Flags().IntVar(&priority, "priority", 0, "tie-break priority, higher wins")

	parent.AddCommand(add)
	return parent
}

func newStatsCmd() *cobra.Command {
	var scopeFlag string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fact and vocabulary statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				factStats, err := a.Store.Statistics(ctx, scope.Country)
				if err != nil {
					return err
				}
				mappingStats, err := a.Mappings.MappingStatistics(ctx, scope)
				if err != nil {
					return err
				}

				heading.Printf("Facts (%s)\n", scope.Country)
				fmt.Printf("  total            %d\n", factStats.TotalFacts)
				fmt.Printf("  distinct         %d\n", factStats.DistinctEntities)
				if factStats.EarliestTime != nil && factStats.LatestTime != nil {
					fmt.Printf("  range            %s .. %s\n",
						factStats.EarliestTime.Format(time.DateOnly),
						factStats.LatestTime.Format(time.DateOnly))
				}

				heading.Printf("Vocabulary (%s)\n", scope)
				fmt.Printf("  entities         %d\n", mappingStats.Entities)
				fmt.Printf("  mappings         %d (primary %d, alias %d)\n",
					mappingStats.Mappings, mappingStats.PrimaryMappings, mappingStats.AliasMappings)
				if mappingStats.PendingSuggestions > 0 {
					warn.Printf("  pending          %d\n", mappingStats.PendingSuggestions)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "CN_zh", "scope key, e.g. CN_zh")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				good.Println("schema is up to date")
				return nil
			})
		},
	}
}
