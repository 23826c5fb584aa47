package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
)

func (c *cli) searchCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search movies by title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := c.components.Service.Search(cmd.Context(), strings.Join(args, " "), page)
			printBrowse(cmd, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "result page")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:       "list <trending|popular|top_rated>",
		Short:     "Show a curated listing",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.ListingTrending), string(domain.ListingPopular), string(domain.ListingTopRated)},
		RunE: func(cmd *cobra.Command, args []string) error {
			category := domain.ListingCategory(args[0])
			if !category.Valid() {
				return errors.Errorf("unknown listing %q (want trending, popular or top_rated)", args[0])
			}
			printBrowse(cmd, c.components.Service.Listing(cmd.Context(), category, page))
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "result page")
	return cmd
}

func (c *cli) similarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similar <movieId>",
		Short: "Show movies related to a movie",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			printBrowse(cmd, c.components.Service.Similar(cmd.Context(), id))
			return nil
		},
	}
}

func (c *cli) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <movieId>",
		Short: "Show a movie with its ledger ratings and reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			view, err := c.components.Service.View(cmd.Context(), id, c.submitter)
			if err != nil {
				return describe(err)
			}
			printView(cmd.OutOrStdout(), view)
			printNotices(cmd.ErrOrStderr(), view.Notices)
			return nil
		},
	}
}

func printBrowse(cmd *cobra.Command, res reconcile.BrowseResult) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tYEAR\tRATING\tVOTES")
	for _, m := range res.Movies {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", m.Movie.ID, m.Movie.Title, year(m.Movie), average(m.Aggregate), m.Aggregate.Count)
	}
	_ = tw.Flush()
	if res.TotalPages > 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d\n", res.Page, res.TotalPages)
	}
	printNotices(cmd.ErrOrStderr(), res.Notices)
}

func printView(out io.Writer, v reconcile.MovieView) {
	fmt.Fprintf(out, "%s (%s)\n", v.Movie.Title, year(v.Movie))
	if v.Movie.Tagline != "" {
		fmt.Fprintln(out, v.Movie.Tagline)
	}
	if v.Movie.Overview != "" {
		fmt.Fprintln(out, v.Movie.Overview)
	}
	if v.Aggregate.Count == 0 {
		fmt.Fprintln(out, "Rating: no ratings yet")
	} else {
		fmt.Fprintf(out, "Rating: %s from %d\n", average(v.Aggregate), v.Aggregate.Count)
	}
	if v.Credits != nil && len(v.Credits.Cast) > 0 {
		names := make([]string, 0, 5)
		for i, m := range v.Credits.Cast {
			if i == 5 {
				break
			}
			names = append(names, m.Name+" as "+m.Character)
		}
		fmt.Fprintf(out, "Cast: %s\n", strings.Join(names, ", "))
	}
	if v.Submitter.Connected() {
		fmt.Fprintf(out, "You (%s): rated=%s reviewed=%s\n", v.Submitter.Short(), yesNo(v.Eligibility.HasRated), yesNo(v.Eligibility.HasReviewed))
	}
	if len(v.Reviews) == 0 {
		fmt.Fprintln(out, "No reviews yet.")
		return
	}
	fmt.Fprintln(out, "Reviews:")
	for _, r := range v.Reviews {
		var tags []string
		if r.Own {
			tags = append(tags, "yours")
		}
		if r.LikedByMe {
			tags = append(tags, "liked")
		}
		if r.Pending {
			tags = append(tags, "pending")
		}
		line := fmt.Sprintf("  #%d %s rated %d, %d likes", r.ID, r.Author.Short(), r.Rating, r.LikeCount)
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintln(out, line)
		fmt.Fprintf(out, "     %s\n", r.Text)
	}
}

func printNotices(errOut io.Writer, notices []reconcile.Notice) {
	for _, n := range notices {
		fmt.Fprintf(errOut, "warning: %s: %s\n", n.Source, n.Message)
	}
}

func parseMovieID(raw string) (domain.MovieID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("movie id %q must be a positive integer", raw)
	}
	return domain.MovieID(id), nil
}

func year(m domain.Movie) string {
	if y := m.ReleaseYear(); y > 0 {
		return strconv.Itoa(y)
	}
	return "-"
}

func average(a domain.AggregateRating) string {
	if a.Count == 0 {
		return "-"
	}
	return a.Average.StringFixed(2)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
