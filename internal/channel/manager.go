package channel

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"go.uber.org/zap"
)

// Channel is a chat transport.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

type ChannelManager struct {
	channels map[string]Channel
	order    []string
	bus      *bus.MessageBus
	logger   *zap.Logger
}

// NewManager returns a manager without channels.
func NewManager(b *bus.MessageBus, logger *zap.Logger) *ChannelManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logger.Named("channels"),
	}
}

// NewChannelManager returns a manager with the Telegram channel registered.
func NewChannelManager(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger) (*ChannelManager, error) {
	m := NewManager(b, logger)
	ch, err := NewTelegramChannel(cfg, b, logger)
	if err != nil {
		return nil, fmt.Errorf("init telegram channel: %w", err)
	}
	m.Add(ch)
	return m, nil
}

// Add registers ch and routes outbound messages for its name to it.
func (m *ChannelManager) Add(ch Channel) {
	name := ch.Name()
	if _, ok := m.channels[name]; !ok {
		m.order = append(m.order, name)
	}
	m.channels[name] = ch
	m.bus.SubscribeOutbound(name, func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Error("send failed", zap.String("channel", name), zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
	})
}

// StartAll starts channels in registration order and stops at the first error.
func (m *ChannelManager) StartAll(ctx context.Context) error {
	for _, name := range m.order {
		m.logger.Info("starting", zap.String("channel", name))
		if err := m.channels[name].Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for _, name := range m.order {
		m.logger.Info("stopping", zap.String("channel", name))
		if err := m.channels[name].Stop(); err != nil {
			m.logger.Warn("stop failed", zap.String("channel", name), zap.Error(err))
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	return append([]string(nil), m.order...)
}
