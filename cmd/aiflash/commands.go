package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"AIFlash/internal/app"
	"AIFlash/internal/domain"
	"AIFlash/internal/usecase"
)

var (
	briefText   bool
	briefNotify bool

	searchLimit int
	searchSince string

	topicTimeframe string

	typeLimit int

	recentLimit int
	recentSince string

	clearConfirm bool
)

func init() {
	rootCmd.AddCommand(runCmd, briefCmd, searchCmd, topicCmd, typeCmd, recentCmd, cardCmd, statusCmd, clearCmd)

	briefCmd.Flags().BoolVar(&briefText, "text", false, "Print the brief as plain text instead of JSON")
	briefCmd.Flags().BoolVar(&briefNotify, "notify", false, "Send the brief to the configured Telegram chat")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of cards")
	searchCmd.Flags().StringVar(&searchSince, "since", "all", "Time window: 24h, 7d, 30d or all")

	topicCmd.Flags().StringVar(&topicTimeframe, "timeframe", "7d", "Time window: 24h, 7d, 30d or all")

	typeCmd.Flags().IntVar(&typeLimit, "limit", 20, "Maximum number of cards")

	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "Maximum number of cards")
	recentCmd.Flags().StringVar(&recentSince, "since", "7d", "Time window: 24h, 7d, 30d or all")

	clearCmd.Flags().BoolVar(&clearConfirm, "yes", false, "Confirm deleting every item and index entry")
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run one job now: ingest, relevance, summarize, cleanup, health or reindex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			result, err := a.RunJob(ctx, args[0])
			if errors.Is(err, usecase.ErrUnknownJob) {
				return fmt.Errorf("%w (known jobs: %s)", err, strings.Join(a.Jobs().Jobs(), ", "))
			}
			if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
				return printErr
			}
			return err
		})
	},
}

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Show the morning brief",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			brief, err := a.Retrieval().MorningBrief(ctx)
			if err != nil {
				return err
			}
			if briefNotify {
				sent, err := usecase.PublishBrief(ctx, a.Notifier(), brief)
				if err != nil {
					return err
				}
				if !sent {
					fmt.Fprintln(cmd.ErrOrStderr(), "brief is empty, nothing sent")
				}
			}
			if briefText {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), usecase.FormatDigest(brief))
				return err
			}
			return printJSON(cmd.OutOrStdout(), brief)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Keyword search over items, best stage first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := usecase.ParseTimeframe(searchSince, time.Now())
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			feed, err := a.Retrieval().Search(ctx, strings.Join(args, " "), searchLimit, since)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), feed)
		})
	},
}

var topicCmd = &cobra.Command{
	Use:   "topic <topic>",
	Short: "Topic feed with a synthesized overview",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			feed, err := a.Retrieval().Topic(ctx, strings.Join(args, " "), topicTimeframe)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), feed)
		})
	},
}

var typeCmd = &cobra.Command{
	Use:       "type <paper|code|release|blog>",
	Short:     "Cards of one content type",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(domain.TypePaper), string(domain.TypeCode), string(domain.TypeRelease), string(domain.TypeBlog)},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			feed, err := a.Retrieval().ByType(ctx, domain.ParseContentType(args[0]), typeLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), feed)
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Most recent cards with backfill from earlier stages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		since, err := usecase.ParseTimeframe(recentSince, time.Now())
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			feed, err := a.Retrieval().Recent(ctx, recentLimit, since)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), feed)
		})
	},
}

var cardCmd = &cobra.Command{
	Use:   "card <id>",
	Short: "Show one card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			card, err := a.Retrieval().Card(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), card)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Item counts per stage, index size and job schedules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			stats, err := a.Maintenance().Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "items: %d total, %d unchecked, %d relevant, %d summarized, %d quarantined\n",
				stats.Store.Total, stats.Store.Unchecked, stats.Store.Relevant, stats.Store.Summarized, stats.Store.Quarantined)
			fmt.Fprintf(out, "recent: %d in 24h, %d in 7d\n", stats.Store.RecentDay, stats.Store.RecentWeek)
			if stats.IndexSize < 0 {
				fmt.Fprintln(out, "index: disabled")
			} else {
				fmt.Fprintf(out, "index: %d entries\n", stats.IndexSize)
			}
			if len(stats.Quarantined) > 0 {
				fmt.Fprintf(out, "quarantined: %s\n", strings.Join(stats.Quarantined, ", "))
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tSCHEDULE\tNEXT RUN")
			for _, st := range a.Jobs().Status() {
				schedule, next := st.Schedule, "-"
				if schedule == "" {
					schedule = "manual"
				}
				if st.NextRun != nil {
					next = st.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", st.Name, schedule, next)
			}
			return w.Flush()
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every item and index entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !clearConfirm {
			return errors.New("refusing to clear without --yes")
		}
		return withApp(cmd.Context(), os.Stderr, func(ctx context.Context, a *app.Application) error {
			result, err := a.Maintenance().ClearAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}
