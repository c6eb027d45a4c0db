package ingestion

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"heimdall/internal/codec"
	"heimdall/internal/config"
	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// WSSource provides live account updates via WebSocket subscriptions.
type WSSource struct {
	ws         solana.WSClient
	watch      config.WatchConfig
	bufferSize int
	logger     logrus.FieldLogger
}

// WSSourceOptions contains configuration for creating a WSSource.
type WSSourceOptions struct {
	WS         solana.WSClient
	Watch      config.WatchConfig
	BufferSize int // Default: 1000
	Logger     logrus.FieldLogger
}

// NewWSSource creates a new WebSocket-based account source.
func NewWSSource(opts WSSourceOptions) *WSSource {
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &WSSource{
		ws:         opts.WS,
		watch:      opts.Watch,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

var _ AccountSource = (*WSSource)(nil)

// Subscribe opens one subscription per tracked user account, one per tracked
// program and one filtered token program subscription per tracked user, then
// merges them into a single channel.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan domain.AccountUpdate, error) {
	users := s.watch.UserList()
	programs := s.watch.ProgramList()

	var channels []<-chan solana.AccountNotification

	for _, user := range users {
		ch, err := s.ws.AccountSubscribe(ctx, user)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		s.logger.WithField("account", user.String()).Debug("subscribed to tracked user")
	}

	for _, program := range programs {
		ch, err := s.ws.ProgramSubscribe(ctx, program, nil)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		s.logger.WithField("program", program.String()).Debug("subscribed to tracked program")
	}

	for _, user := range users {
		ch, err := s.ws.ProgramSubscribe(ctx, solana.TokenProgram, []solana.AccountFilter{
			solana.DataSizeFilter(codec.TokenAccountLength),
			solana.MemcmpKeyFilter(codec.TokenAccountOwnerOffset, user),
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
		s.logger.WithField("account", user.String()).Debug("subscribed to token accounts of tracked user")
	}

	s.logger.WithFields(logrus.Fields{
		"users":    len(users),
		"programs": len(programs),
	}).Info("account subscriptions established")

	out := make(chan domain.AccountUpdate, s.bufferSize)

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch <-chan solana.AccountNotification) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- notificationToUpdate(n):
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func notificationToUpdate(n solana.AccountNotification) domain.AccountUpdate {
	return domain.AccountUpdate{
		Pubkey:     n.Pubkey,
		Owner:      n.Account.Owner,
		Lamports:   n.Account.Lamports,
		Data:       n.Account.Data,
		Executable: n.Account.Executable,
		Slot:       n.Slot,
		Version:    domain.SchemaV3,
	}
}
