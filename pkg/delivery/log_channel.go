package delivery

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel writes deliveries to the logger instead of an external provider.
type LogChannel struct {
	name   string
	logger *zap.Logger
}

// NewLogChannel returns a channel named name.
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{name: name, logger: logger}
}

func (l *LogChannel) Name() string { return l.name }

func (l *LogChannel) Send(ctx context.Context, to Recipient, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	address := to.Email
	if l.name == ChannelSMS {
		address = to.Phone
	}
	if address == "" {
		return ErrNoAddress
	}
	l.logger.Info("delivery (log channel)",
		zap.String("channel", l.name), zap.String("to", address), zap.String("subject", msg.Subject))
	return nil
}
