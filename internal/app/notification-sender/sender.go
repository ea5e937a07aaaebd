// Package sender предоставляет сборку сервиса отправки уведомлений.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/config"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/smtp"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/rabbitmq"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/services/notification"
)

// App объединяет подключение к брокеру и сервис отправки писем.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *notification.SenderService
	logger        *slog.Logger
}

// New собирает приложение: подключение к RabbitMQ с топологией очередей
// и SMTP-транспорт для отправки писем.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetLifecycleQueues())
	if err != nil {
		conn.Close()
		return nil, err
	}

	transport := smtp.NewTransport(cfg, logger)
	senderService := notification.NewSenderService(transport, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run запускает потребителя очереди уведомлений и ждет отмены контекста.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, "lifecycle.notifications", a.senderService.SendLifecycleNotification)
	if err != nil {
		a.logger.Error("failed to start lifecycle.notifications consumer", slog.Any("err", err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("notification sender shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
