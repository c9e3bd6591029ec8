package notification

import (
	"context"

	"github.com/smallbiznis/stayledger/internal/config"
	"github.com/smallbiznis/stayledger/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("notification",
	email.Module,
	fx.Provide(NewNotifier),
	fx.Provide(NewDispatcher),
)

type NotifierParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Email     email.Provider
}

// NewNotifier always logs and additionally delivers through the configured
// driver ("email" or "amqp").
func NewNotifier(p NotifierParams) (Notifier, error) {
	fanout := Fanout{NewLogNotifier(p.Log)}

	switch p.Config.Notification.Driver {
	case "email":
		fanout = append(fanout, NewEmailNotifier(p.DB, p.Email))
	case "amqp":
		publisher, err := DialAMQP(p.Config.Notification.AMQPURL, p.Config.Notification.AMQPExchange)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error { return publisher.Close() },
		})
		fanout = append(fanout, publisher)
	}
	return fanout, nil
}
