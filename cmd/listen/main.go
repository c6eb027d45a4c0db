// Command listen subscribes to a ListingStream server and prints every update.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"heimdall/internal/cli"
	"heimdall/internal/wire"
)

type listenFlags struct {
	addr     string
	programs []string
	types    []string
	jsonOut  bool
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &listenFlags{}

	cmd := &cobra.Command{
		Use:          "listen",
		Short:        "Print updates from a heimdall stream server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", "[::1]:50051", "Stream server address")
	flags.StringSliceVar(&f.programs, "program", nil, "Only listings owned by these program ids (repeatable)")
	flags.StringSliceVar(&f.types, "type", nil, "Update types: listing, user_assets (repeatable)")
	flags.BoolVar(&f.jsonOut, "json", false, "Print one JSON object per update")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level")

	return cmd
}

func parseUpdateTypes(names []string) ([]wire.UpdateType, error) {
	out := make([]wire.UpdateType, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "listing", "listings":
			out = append(out, wire.UpdateTypeListing)
		case "user_assets", "user", "users":
			out = append(out, wire.UpdateTypeUserAssets)
		default:
			return nil, fmt.Errorf("unknown update type %q", n)
		}
	}
	return out, nil
}

func run(parent context.Context, f *listenFlags, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := cli.NewLogger(f.logLevel, false)
	if err != nil {
		return err
	}
	types, err := parseUpdateTypes(f.types)
	if err != nil {
		return err
	}

	ctx, done := cli.ShutdownContext(parent, logger)
	defer done()

	conn, err := grpc.NewClient(f.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		wire.DialOption(),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.addr, err)
	}
	defer conn.Close()

	stream, err := wire.NewListingStreamClient(conn).StreamListings(ctx, &wire.StreamRequest{
		ProgramIds:  f.programs,
		UpdateTypes: types,
	})
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	logger.WithField("addr", f.addr).Info("subscribed")

	enc := json.NewEncoder(out)
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		if f.jsonOut {
			if err := enc.Encode(resp); err != nil {
				return err
			}
			continue
		}
		printUpdate(out, resp)
	}
}

func printUpdate(out io.Writer, resp *wire.StreamResponse) {
	switch {
	case resp.Listing != nil:
		l := resp.Listing
		fmt.Fprintf(out, "listing %s name=%q raised=%d/%d sold=%s slot=%d updated=%s\n",
			l.Account, l.Name, l.FundingRaised, l.FundingGoal, l.TokensSold, l.Slot, l.UpdatedAt)
	case resp.UserAssets != nil:
		u := resp.UserAssets
		fmt.Fprintf(out, "user %s sol=%s seq=%d slot=%d tokens=%s\n",
			u.Address, u.SolBalanceExact, u.Seq, u.Slot, u.TokenHoldings)
	}
}
