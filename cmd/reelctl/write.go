package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
)

func (c *cli) rateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <movieId> <score>",
		Short: "Rate a movie from 1 to 10",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			score, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("score %q must be an integer", args[1])
			}
			return c.submit(cmd, reconcile.Intent{Action: domain.ActionRate, MovieID: id, Rating: score})
		},
	}
}

func (c *cli) reviewCmd() *cobra.Command {
	var (
		rating int
		text   string
	)
	cmd := &cobra.Command{
		Use:   "review <movieId> --rating N --text TEXT",
		Short: "Publish a review with its rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			return c.submit(cmd, reconcile.Intent{Action: domain.ActionReview, MovieID: id, Rating: rating, Text: text})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 1 to 10")
	cmd.Flags().StringVar(&text, "text", "", "review text, at most 1000 characters")
	return cmd
}

func (c *cli) likeCmd(action domain.Action) *cobra.Command {
	short := "Like a review"
	if action == domain.ActionUnlike {
		short = "Withdraw a like"
	}
	return &cobra.Command{
		Use:   string(action) + " <movieId> <reviewId>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			reviewID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || !domain.ReviewID(reviewID).Valid() {
				return errors.Errorf("review id %q must be a positive integer", args[1])
			}
			return c.submit(cmd, reconcile.Intent{Action: action, MovieID: id, ReviewID: domain.ReviewID(reviewID)})
		},
	}
}

// submit dispatches in and blocks until the write settles or --timeout passes.
func (c *cli) submit(cmd *cobra.Command, in reconcile.Intent) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	sess := c.components.Service.Session(c.submitter)
	state, err := sess.Dispatch(ctx, in)
	if err != nil {
		return describe(err)
	}
	final, err := sess.Wait(ctx, state.ID)
	if err != nil {
		return errors.Wrapf(err, "submission %s still %s", state.ID, final.Phase)
	}

	out := cmd.OutOrStdout()
	phases := make([]string, len(final.History))
	for i, p := range final.History {
		phases[i] = string(p)
	}
	fmt.Fprintf(out, "submission %s: %s\n", final.ID, strings.Join(phases, " -> "))
	if final.Phase == domain.PhaseFailed {
		if final.Failure == nil {
			return errors.New("submission failed")
		}
		return errors.Errorf("%s (%s)", reconcile.Message(final.Failure.Reason), final.Failure.Reason)
	}
	fmt.Fprintf(out, "tx %s\n", final.TxHash)
	if !final.Visible {
		fmt.Fprintln(out, "confirmed; reads have not caught up yet")
	}
	return nil
}

// describe renders a reconcile error with its message and stable reason code.
func describe(err error) error {
	var rerr *reconcile.Error
	if errors.As(err, &rerr) {
		return errors.Errorf("%s (%s)", rerr.Message(), rerr.Reason)
	}
	return err
}
