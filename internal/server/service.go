package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"heimdall/internal/domain"
	"heimdall/internal/fanout"
	"heimdall/internal/solana"
	"heimdall/internal/wire"
)

// Subscriber hands out fan-out subscriptions.
type Subscriber interface {
	Subscribe(f fanout.Filter) *fanout.Subscription
}

// ListingService implements the ListingStream service on top of a dispatcher.
type ListingService struct {
	subs   Subscriber
	logger logrus.FieldLogger
}

// NewListingService creates the stream handler.
func NewListingService(subs Subscriber, logger logrus.FieldLogger) *ListingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ListingService{subs: subs, logger: logger}
}

var _ wire.ListingStreamServer = (*ListingService)(nil)

// StreamListings streams matching updates until the client goes away or the
// subscription is terminated.
func (s *ListingService) StreamListings(req *wire.StreamRequest, stream grpc.ServerStreamingServer[wire.StreamResponse]) error {
	filter, err := FilterFromRequest(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx := stream.Context()
	logger := s.logger.WithFields(logrus.Fields{
		"peer":         peerAddr(stream),
		"programs":     len(req.ProgramIds),
		"update_types": len(req.UpdateTypes),
	})

	sub := s.subs.Subscribe(filter)
	defer sub.Close()
	logger.Info("stream subscriber connected")

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream subscriber disconnected")
			return nil

		case <-sub.Done():
			err := sub.Err()
			logger.WithError(err).Warn("stream subscription ended")
			if errors.Is(err, fanout.ErrSlowSubscriber) {
				return status.Error(codes.ResourceExhausted, "subscriber could not keep up with updates")
			}
			return status.Error(codes.Unavailable, "update feed closed")

		case u := <-sub.Updates():
			if err := stream.Send(u.Response); err != nil {
				logger.WithError(err).Debug("stream send failed")
				return err
			}
		}
	}
}

// FilterFromRequest converts the wire request into a dispatcher filter.
// Unspecified update types are ignored.
func FilterFromRequest(req *wire.StreamRequest) (fanout.Filter, error) {
	programs := make([]solana.PublicKey, 0, len(req.ProgramIds))
	for _, id := range req.ProgramIds {
		pk, err := solana.ParsePublicKey(id)
		if err != nil {
			return fanout.Filter{}, fmt.Errorf("invalid program id %q: %w", id, err)
		}
		programs = append(programs, pk)
	}

	kinds := make([]domain.ChangeKind, 0, len(req.UpdateTypes))
	for _, t := range req.UpdateTypes {
		switch t {
		case wire.UpdateTypeUnspecified:
		case wire.UpdateTypeListing:
			kinds = append(kinds, domain.ListingChanged)
		case wire.UpdateTypeUserAssets:
			kinds = append(kinds, domain.UserAssetsChanged)
		default:
			return fanout.Filter{}, fmt.Errorf("unknown update type %d", t)
		}
	}

	return fanout.NewFilter(programs, kinds), nil
}

func peerAddr(stream grpc.ServerStream) string {
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
