package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"heimdall/internal/domain"
	"heimdall/internal/fanout"
	"heimdall/internal/solana"
	"heimdall/internal/storage/memory"
	"heimdall/internal/wire"
)

const bufSize = 1 << 20

var (
	programA = solana.PublicKey{0xB1}
	programB = solana.PublicKey{0xB2}
	user     = solana.PublicKey{0xA1}
)

type harness struct {
	store      *memory.ProjectionStore
	dispatcher *fanout.Dispatcher
	events     chan domain.ChangeEvent
	client     wire.ListingStreamClient
	conn       *grpc.ClientConn
}

func newHarness(t *testing.T, opts fanout.Options) *harness {
	t.Helper()

	store := memory.NewProjectionStore()
	opts.Store = store
	d := fanout.NewDispatcher(opts)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.ChangeEvent)
	go func() { _ = d.Run(ctx, events) }()

	lis := bufconn.Listen(bufSize)
	srv, err := New(Options{Listener: lis, Subscriber: d})
	require.NoError(t, err)

	served := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(served)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		wire.DialOption(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-served
	})

	return &harness{
		store:      store,
		dispatcher: d,
		events:     events,
		client:     wire.NewListingStreamClient(conn),
		conn:       conn,
	}
}

func (h *harness) waitSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.dispatcher.Subscribers() == n }, 2*time.Second, 10*time.Millisecond)
}

func (h *harness) seedListing(t *testing.T, account, program solana.PublicKey, name string) {
	t.Helper()
	require.NoError(t, h.store.UpsertListing(context.Background(), &domain.Listing{
		Account:       account,
		Program:       program,
		Slot:          1,
		ListingRecord: domain.ListingRecord{Name: name, PoolMintSupply: domain.MaxU128},
	}))
}

func TestStreamListings_DeliversListing(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamListings(ctx, &wire.StreamRequest{})
	require.NoError(t, err)
	h.waitSubscribers(t, 1)

	account := solana.PublicKey{0xC1}
	h.seedListing(t, account, programA, "alpha")
	h.events <- domain.ChangeEvent{Subject: account, Kind: domain.ListingChanged}

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, resp.Listing)
	assert.Equal(t, account.String(), resp.Listing.Account)
	assert.Equal(t, "alpha", resp.Listing.Name)
	assert.Equal(t, domain.MaxU128.String(), resp.Listing.PoolMintSupply)
	assert.Equal(t, programA.String(), resp.Listing.Program)
}

func TestStreamListings_Filters(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamListings(ctx, &wire.StreamRequest{
		ProgramIds:  []string{programB.String()},
		UpdateTypes: []wire.UpdateType{wire.UpdateTypeListing},
	})
	require.NoError(t, err)
	h.waitSubscribers(t, 1)

	a, b := solana.PublicKey{0xC1}, solana.PublicKey{0xC2}
	h.seedListing(t, a, programA, "filtered out")
	h.seedListing(t, b, programB, "wanted")
	require.NoError(t, h.store.EnsureUser(ctx, user))
	_, err = h.store.AppendUserSnapshot(ctx, user, 1, domain.SetSolBalance(1, 1))
	require.NoError(t, err)

	h.events <- domain.ChangeEvent{Subject: a, Kind: domain.ListingChanged}
	h.events <- domain.ChangeEvent{Subject: user, Kind: domain.UserAssetsChanged}
	h.events <- domain.ChangeEvent{Subject: b, Kind: domain.ListingChanged}

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, resp.Listing)
	assert.Equal(t, "wanted", resp.Listing.Name)
}

func TestStreamListings_UserAssets(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamListings(ctx, &wire.StreamRequest{
		UpdateTypes: []wire.UpdateType{wire.UpdateTypeUserAssets},
	})
	require.NoError(t, err)
	h.waitSubscribers(t, 1)

	require.NoError(t, h.store.EnsureUser(ctx, user))
	_, err = h.store.AppendUserSnapshot(ctx, user, 9, domain.SetSolBalance(500_000_000, 9))
	require.NoError(t, err)
	h.events <- domain.ChangeEvent{Subject: user, Kind: domain.UserAssetsChanged}

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, resp.UserAssets)
	assert.Equal(t, user.String(), resp.UserAssets.Address)
	assert.InDelta(t, 0.5, resp.UserAssets.SolBalance, 1e-9)
	assert.Equal(t, uint64(9), resp.UserAssets.Slot)
}

func TestStreamListings_InvalidProgramID(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamListings(ctx, &wire.StreamRequest{ProgramIds: []string{"not-base58!"}})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 0, h.dispatcher.Subscribers())
}

func TestListingService_SlowSubscriberResourceExhausted(t *testing.T) {
	store := memory.NewProjectionStore()
	account := solana.PublicKey{0xC1}
	require.NoError(t, store.UpsertListing(context.Background(), &domain.Listing{Account: account, Program: programA, Slot: 1}))

	d := fanout.NewDispatcher(fanout.Options{Store: store, QueueSize: 1, Overflow: fanout.Disconnect})
	svc := NewListingService(d, nil)

	stream := &fakeStream{ctx: context.Background(), release: make(chan struct{})}
	errCh := make(chan error, 1)
	go func() { errCh <- svc.StreamListings(&wire.StreamRequest{}, stream) }()
	require.Eventually(t, func() bool { return d.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	// Send blocks, so the queue overflows within three events.
	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), domain.ChangeEvent{Subject: account, Kind: domain.ListingChanged})
	}
	require.Eventually(t, func() bool { return d.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	close(stream.release)

	select {
	case err := <-errCh:
		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestListingService_FeedClosedUnavailable(t *testing.T) {
	d := fanout.NewDispatcher(fanout.Options{Store: memory.NewProjectionStore()})
	svc := NewListingService(d, nil)

	stream := &fakeStream{ctx: context.Background()}
	errCh := make(chan error, 1)
	go func() { errCh <- svc.StreamListings(&wire.StreamRequest{}, stream) }()
	require.Eventually(t, func() bool { return d.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	events := make(chan domain.ChangeEvent)
	close(events)
	assert.ErrorIs(t, d.Run(context.Background(), events), fanout.ErrFeedClosed)

	select {
	case err := <-errCh:
		assert.Equal(t, codes.Unavailable, status.Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestStreamListings_ClientCancelDeregisters(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.client.StreamListings(ctx, &wire.StreamRequest{})
	require.NoError(t, err)
	h.waitSubscribers(t, 1)

	cancel()
	h.waitSubscribers(t, 0)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, fanout.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hc := grpc_health_v1.NewHealthClient(h.conn)
	for _, svc := range []string{"", wire.ServiceName} {
		resp, err := hc.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: svc})
		require.NoError(t, err, svc)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	}
}

func TestFilterFromRequest(t *testing.T) {
	f, err := FilterFromRequest(&wire.StreamRequest{
		ProgramIds:  []string{programA.String()},
		UpdateTypes: []wire.UpdateType{wire.UpdateTypeUnspecified, wire.UpdateTypeListing},
	})
	require.NoError(t, err)
	assert.True(t, f.Match(&fanout.Update{Kind: domain.ListingChanged, Program: programA}))
	assert.False(t, f.Match(&fanout.Update{Kind: domain.ListingChanged, Program: programB}))
	assert.False(t, f.Match(&fanout.Update{Kind: domain.UserAssetsChanged}))

	_, err = FilterFromRequest(&wire.StreamRequest{UpdateTypes: []wire.UpdateType{42}})
	assert.Error(t, err)
}

type fakeStream struct {
	grpc.ServerStream
	ctx     context.Context
	release chan struct{} // when set, Send blocks until closed
	sent    []*wire.StreamResponse
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) Send(m *wire.StreamResponse) error {
	if f.release != nil {
		<-f.release
	}
	f.sent = append(f.sent, m)
	return nil
}
