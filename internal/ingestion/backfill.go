package ingestion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
	"heimdall/internal/codec"
	"heimdall/internal/config"
	"heimdall/internal/domain"
	"heimdall/internal/observability"
	"heimdall/internal/solana"
)

// Snapshotter replays the current state of every watched account through a
// handler at startup, marking each update IsStartup.
type Snapshotter struct {
	rpc         solana.RPCClient
	watch       config.WatchConfig
	handler     Handler
	concurrency int
	logger      logrus.FieldLogger
}

// SnapshotterOptions contains configuration for creating a Snapshotter.
type SnapshotterOptions struct {
	RPC         solana.RPCClient
	Watch       config.WatchConfig
	Handler     Handler
	Concurrency int // Default: 8
	Logger      logrus.FieldLogger
}

// NewSnapshotter creates a new startup snapshotter.
func NewSnapshotter(opts SnapshotterOptions) *Snapshotter {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Snapshotter{
		rpc:         opts.RPC,
		watch:       opts.Watch,
		handler:     opts.Handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SnapshotResult contains statistics from a snapshot run.
type SnapshotResult struct {
	Slot          uint64
	Users         int
	TokenAccounts int
	Listings      int
	Rejected      int
	Duration      time.Duration
}

// Run fetches every watched account over RPC and hands it to the handler.
// RPC failures abort the run; handler failures are counted and logged.
func (s *Snapshotter) Run(ctx context.Context) (*SnapshotResult, error) {
	start := time.Now()

	slot, err := s.rpc.GetSlot(ctx)
	if err != nil {
		return nil, cdc.New(cdc.KindConnection, "getSlot", err)
	}

	var users, tokens, listings, rejected atomic.Int64

	pool := pond.NewPool(s.concurrency)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, user := range s.watch.UserList() {
		group.SubmitErr(func() error {
			info, err := s.rpc.GetAccountInfo(ctx, user)
			if err != nil {
				return cdc.New(cdc.KindConnection, user.String(), fmt.Errorf("getAccountInfo: %w", err))
			}
			if info == nil {
				s.logger.WithField("account", user.String()).Debug("tracked user has no account yet")
				return nil
			}
			s.handle(ctx, keyed(user, info), slot, &rejected)
			users.Add(1)
			observability.RecordSnapshotAccount("user")
			return nil
		})

		group.SubmitErr(func() error {
			accounts, err := s.rpc.GetProgramAccounts(ctx, solana.TokenProgram, []solana.AccountFilter{
				solana.DataSizeFilter(codec.TokenAccountLength),
				solana.MemcmpKeyFilter(codec.TokenAccountOwnerOffset, user),
			})
			if err != nil {
				return cdc.New(cdc.KindConnection, user.String(), fmt.Errorf("getProgramAccounts token: %w", err))
			}
			for _, acct := range accounts {
				s.handle(ctx, acct, slot, &rejected)
				tokens.Add(1)
				observability.RecordSnapshotAccount("token")
			}
			return nil
		})
	}

	for _, program := range s.watch.ProgramList() {
		group.SubmitErr(func() error {
			accounts, err := s.rpc.GetProgramAccounts(ctx, program, nil)
			if err != nil {
				return cdc.New(cdc.KindConnection, program.String(), fmt.Errorf("getProgramAccounts: %w", err))
			}
			for _, acct := range accounts {
				s.handle(ctx, acct, slot, &rejected)
				listings.Add(1)
				observability.RecordSnapshotAccount("program")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &SnapshotResult{
		Slot:          slot,
		Users:         int(users.Load()),
		TokenAccounts: int(tokens.Load()),
		Listings:      int(listings.Load()),
		Rejected:      int(rejected.Load()),
		Duration:      time.Since(start),
	}

	s.logger.WithFields(logrus.Fields{
		"slot":           result.Slot,
		"users":          result.Users,
		"token_accounts": result.TokenAccounts,
		"listings":       result.Listings,
		"rejected":       result.Rejected,
		"duration":       result.Duration,
	}).Info("startup snapshot complete")

	return result, nil
}

func (s *Snapshotter) handle(ctx context.Context, acct solana.KeyedAccount, slot uint64, rejected *atomic.Int64) {
	u := domain.AccountUpdate{
		Pubkey:     acct.Pubkey,
		Owner:      acct.Account.Owner,
		Lamports:   acct.Account.Lamports,
		Data:       acct.Account.Data,
		Executable: acct.Account.Executable,
		Slot:       slot,
		IsStartup:  true,
		Version:    domain.SchemaV3,
	}
	if err := s.handler.UpdateAccount(ctx, u); err != nil {
		rejected.Add(1)
		s.logger.WithError(err).WithField("account", acct.Pubkey.String()).Warn("snapshot update rejected")
	}
}

func keyed(pubkey solana.PublicKey, info *solana.AccountInfo) solana.KeyedAccount {
	return solana.KeyedAccount{Pubkey: pubkey, Account: *info}
}
