// Command reelctl browses movie metadata and records ratings, reviews and likes on the
// ledger from a terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Clark-Hu/reel-ledger/internal/app"
	"github.com/Clark-Hu/reel-ledger/internal/config"
	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/ledger"
	"github.com/Clark-Hu/reel-ledger/internal/logging"
)

type cli struct {
	yes     bool
	as      string
	timeout time.Duration
	verbose bool

	components *app.Components
	submitter  domain.Submitter
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "reelctl",
		Short:             "Browse movies and record ratings, reviews and likes on the ledger",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	flags := root.PersistentFlags()
	flags.BoolVarP(&c.yes, "yes", "y", false, "sign transactions without asking")
	flags.StringVar(&c.as, "as", "", "act as this address (defaults to the only configured key)")
	flags.DurationVar(&c.timeout, "timeout", 3*time.Minute, "give up waiting for a write after this long")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		c.searchCmd(),
		c.listCmd(),
		c.viewCmd(),
		c.similarCmd(),
		c.rateCmd(),
		c.reviewCmd(),
		c.likeCmd(domain.ActionLike),
		c.likeCmd(domain.ActionUnlike),
		c.whoamiCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	logger, err := logging.NewWithOutput(level, "text", cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var opts app.Options
	if !c.yes {
		approve := promptApprover(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr())
		opts.WrapSigner = func(s ledger.Signer) ledger.Signer {
			return ledger.NewPromptSigner(s, approve)
		}
	}
	c.components, err = app.Build(cmd.Context(), cfg, logger, opts)
	if err != nil {
		return err
	}

	switch {
	case c.as != "":
		if !common.IsHexAddress(c.as) {
			return errors.Errorf("--as %q is not an address", c.as)
		}
		c.submitter = domain.NewSubmitter(c.as)
	default:
		c.submitter = c.components.DefaultSubmitter()
	}
	return nil
}

func (c *cli) close() {
	if c.components != nil {
		c.components.Close()
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "List the identities this process can sign for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			subs := c.components.Keyring.Submitters()
			sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
			for _, s := range subs {
				marker := " "
				if s == c.submitter {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, s)
			}
			if !c.submitter.Connected() {
				fmt.Fprintln(out, "no active identity; pass --as to pick one")
			}
			return nil
		},
	}
}

// promptApprover asks on errOut and reads the answer from in. Anything but y or yes declines.
func promptApprover(in *bufio.Reader, errOut io.Writer) ledger.ApproveFunc {
	return func(_ context.Context, req ledger.SignRequest) (bool, error) {
		fmt.Fprintf(errOut, "Sign %s? [y/N] ", req)
		answer, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || answer == "") {
			return false, errors.Wrap(err, "read approval")
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
