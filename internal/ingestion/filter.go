package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
	"heimdall/internal/changebus"
	"heimdall/internal/codec"
	"heimdall/internal/config"
	"heimdall/internal/domain"
	"heimdall/internal/observability"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// Branch names one of the independent routing rules applied to an update.
type Branch string

const (
	BranchUserBalance  Branch = "user_balance"
	BranchTokenHolding Branch = "token_holding"
	BranchListing      Branch = "listing"
)

// Outcome is the result of one branch.
type Outcome string

const (
	// OutcomeWritten means the projection row was committed.
	OutcomeWritten Outcome = "written"
	// OutcomeSkipped means the payload did not decode; nothing was written.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeStale means a newer slot was already stored for the listing or
	// user asset field. Nothing was written or published.
	OutcomeStale Outcome = "stale"
	// OutcomeFailed means the write did not commit.
	OutcomeFailed Outcome = "failed"
)

// Step records what one branch did with an update.
type Step struct {
	Branch  Branch
	Subject solana.PublicKey
	Outcome Outcome
	// Published is true when the change event was sent.
	Published bool
	// Err is a *cdc.Error when set. A written step can still carry a Notify error.
	Err error
}

// Report lists the branches that fired for one update, in evaluation order.
type Report struct {
	Account solana.PublicKey
	Slot    uint64
	Steps   []Step
}

// Step returns the first step for branch, if any.
func (r *Report) Step(branch Branch) (Step, bool) {
	for _, s := range r.Steps {
		if s.Branch == branch {
			return s, true
		}
	}
	return Step{}, false
}

// Filter routes account updates into the projection store and announces
// committed writes on the change bus.
type Filter struct {
	watch   config.WatchConfig
	store   storage.ProjectionStore
	bus     changebus.Bus
	history storage.ListingHistoryStore
	logger  logrus.FieldLogger

	provisioned mapset.Set[solana.PublicKey]
}

// FilterOptions contains configuration for creating a Filter.
type FilterOptions struct {
	Watch   config.WatchConfig
	Store   storage.ProjectionStore
	Bus     changebus.Bus
	History storage.ListingHistoryStore // Optional
	Logger  logrus.FieldLogger
}

// NewFilter creates a new ingestion filter.
func NewFilter(opts FilterOptions) *Filter {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Filter{
		watch:       opts.Watch,
		store:       opts.Store,
		bus:         opts.Bus,
		history:     opts.History,
		logger:      logger,
		provisioned: mapset.NewSet[solana.PublicKey](),
	}
}

// UpdateAccount applies one account update.
// The only returned error is cdc.ErrVersionUnsupported; per-branch failures
// are reported in the Report and never abort the other branches.
func (f *Filter) UpdateAccount(ctx context.Context, u domain.AccountUpdate) (*Report, error) {
	start := time.Now()
	defer func() { observability.RecordUpdateLatency(time.Since(start)) }()

	switch u.Version {
	case domain.SchemaV3:
	case domain.SchemaV1, domain.SchemaV2:
		observability.RecordIngestError(cdc.KindVersionUnsupported.String())
		return nil, cdc.New(cdc.KindVersionUnsupported, u.Pubkey.String(),
			fmt.Errorf("schema %s is not supported, upgrade the host to %s", u.Version, domain.SchemaV3))
	default:
		observability.RecordIngestError(cdc.KindVersionUnsupported.String())
		return nil, cdc.New(cdc.KindVersionUnsupported, u.Pubkey.String(),
			fmt.Errorf("unknown schema %s", u.Version))
	}
	observability.RecordUpdateReceived(u.Version.String(), u.Slot)

	report := &Report{Account: u.Pubkey, Slot: u.Slot}

	if f.watch.IsTrackedUser(u.Pubkey) {
		report.add(f.applyUserBalance(ctx, u))
	}
	if u.Owner == solana.TokenProgram {
		if step, ok := f.applyTokenHolding(ctx, u); ok {
			report.add(step)
		}
	}
	if f.watch.IsTrackedProgram(u.Owner) {
		report.add(f.applyListing(ctx, u))
	}

	for _, step := range report.Steps {
		f.record(u, step)
	}
	return report, nil
}

func (r *Report) add(s Step) {
	r.Steps = append(r.Steps, s)
}

func (f *Filter) applyUserBalance(ctx context.Context, u domain.AccountUpdate) Step {
	return f.appendSnapshot(ctx, BranchUserBalance, u.Pubkey, u.Slot, domain.SetSolBalance(u.Lamports, u.Slot))
}

// applyTokenHolding reports false when the account is not a token account of a tracked user.
func (f *Filter) applyTokenHolding(ctx context.Context, u domain.AccountUpdate) (Step, bool) {
	acct, err := codec.DecodeTokenAccount(u.Data)
	if err != nil {
		f.logger.WithError(err).WithField("account", u.Pubkey.String()).Debug("ignoring undecodable token program account")
		return Step{}, false
	}
	if !f.watch.IsTrackedUser(acct.Owner) {
		return Step{}, false
	}

	return f.appendSnapshot(ctx, BranchTokenHolding, acct.Owner, u.Slot, domain.SetTokenHolding(acct.Mint, acct.Amount, u.Slot)), true
}

func (f *Filter) appendSnapshot(ctx context.Context, branch Branch, user solana.PublicKey, slot uint64, mutate storage.SnapshotMutator) Step {
	step := Step{Branch: branch, Subject: user}

	if err := f.ensureUser(ctx, user); err != nil {
		step.Outcome = OutcomeFailed
		step.Err = cdc.New(cdc.KindStoreWrite, user.String(), err)
		return step
	}

	_, err := f.store.AppendUserSnapshot(ctx, user, slot, mutate)
	switch {
	case errors.Is(err, storage.ErrStaleWrite):
		step.Outcome = OutcomeStale
		return step
	case err != nil:
		step.Outcome = OutcomeFailed
		step.Err = cdc.New(cdc.KindStoreWrite, user.String(), err)
		return step
	}

	step.Outcome = OutcomeWritten
	f.publish(ctx, &step, domain.ChangeEvent{Subject: user, Kind: domain.UserAssetsChanged})
	return step
}

// ensureUser provisions a user once per process.
func (f *Filter) ensureUser(ctx context.Context, user solana.PublicKey) error {
	if f.provisioned.ContainsOne(user) {
		return nil
	}
	if err := f.store.EnsureUser(ctx, user); err != nil {
		return fmt.Errorf("provision user: %w", err)
	}
	f.provisioned.Add(user)
	return nil
}

func (f *Filter) applyListing(ctx context.Context, u domain.AccountUpdate) Step {
	step := Step{Branch: BranchListing, Subject: u.Pubkey}

	rec, err := codec.DecodeListing(u.Data)
	if err != nil {
		step.Outcome = OutcomeSkipped
		step.Err = cdc.New(cdc.KindDecode, u.Pubkey.String(), err)
		return step
	}

	listing := &domain.Listing{
		Account:       u.Pubkey,
		Program:       u.Owner,
		Slot:          u.Slot,
		ListingRecord: *rec,
	}

	err = f.store.UpsertListing(ctx, listing)
	switch {
	case errors.Is(err, storage.ErrStaleWrite):
		step.Outcome = OutcomeStale
		return step
	case err != nil:
		step.Outcome = OutcomeFailed
		step.Err = cdc.New(cdc.KindStoreWrite, u.Pubkey.String(), err)
		return step
	}

	step.Outcome = OutcomeWritten
	if f.history != nil {
		if err := f.history.Append(ctx, listing); err != nil {
			f.logger.WithError(err).WithField("account", u.Pubkey.String()).Warn("listing history append failed")
		}
	}
	f.publish(ctx, &step, domain.ChangeEvent{Subject: u.Pubkey, Kind: domain.ListingChanged})
	return step
}

func (f *Filter) publish(ctx context.Context, step *Step, ev domain.ChangeEvent) {
	if f.bus == nil {
		return
	}
	if err := f.bus.Publish(ctx, ev); err != nil {
		step.Err = cdc.New(cdc.KindNotify, ev.Subject.String(), err)
		return
	}
	step.Published = true
}

func (f *Filter) record(u domain.AccountUpdate, step Step) {
	observability.RecordBranch(string(step.Branch), string(step.Outcome))

	entry := f.logger.WithFields(logrus.Fields{
		"account": u.Pubkey.String(),
		"subject": step.Subject.String(),
		"branch":  string(step.Branch),
		"slot":    u.Slot,
		"startup": u.IsStartup,
	})

	if step.Err != nil {
		kind := cdc.KindOf(step.Err)
		observability.RecordIngestError(kind.String())
		entry = entry.WithField("kind", kind.String()).WithError(step.Err)
		if kind == cdc.KindDecode {
			entry.Warn("listing payload did not decode, skipped")
			return
		}
		entry.Error("ingestion branch failed")
		return
	}

	switch step.Outcome {
	case OutcomeStale:
		entry.Debug("write older than stored slot, ignored")
	default:
		entry.Debug("projection updated")
	}
}
