// Package notification отправляет письма о событиях жизненного цикла
// подписок. Сообщения приходят из очереди RabbitMQ и доставляются
// покупателю подписки по SMTP.
package notification

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/sl"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/smtp"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// SenderService отправляет уведомления о событиях подписки.
type SenderService struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(transport smtp.TransportInterface, log *slog.Logger) *SenderService {
	return &SenderService{
		transport: transport,
		log:       log,
	}
}

// SendLifecycleNotification разбирает событие из очереди и отправляет
// письмо покупателю подписки. События без почты покупателя пропускаются.
func (s *SenderService) SendLifecycleNotification(body []byte) error {
	var event models.LifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("failed to unmarshal lifecycle event", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	if event.PurchaserEmail == "" {
		s.log.Warn("lifecycle event without purchaser email, skipping",
			slog.String("subscription_id", event.SubscriptionID),
			slog.String("action", event.Action))
		return nil
	}

	subject, bodyText := composeLifecycleEmail(event)
	return s.sendEmail([]string{event.PurchaserEmail}, subject, bodyText)
}

func composeLifecycleEmail(event models.LifecycleEvent) (subject, bodyText string) {
	switch event.Action {
	case models.ActionActivated:
		subject = "Подписка активирована"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nВаша подписка %s активирована на тарифном плане %s.\n\nСпасибо за покупку.",
			event.SubscriptionID, event.PlanID)
	case models.ActionUnsubscribe:
		subject = "Подписка отменена"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nВаша подписка %s отменена. Доступ пользователей к сервису прекращён.",
			event.SubscriptionID)
	case models.ActionChangePlan:
		subject = "Тарифный план изменён"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nТарифный план подписки %s изменён на %s.",
			event.SubscriptionID, event.PlanID)
	case models.ActionChangeQuantity:
		subject = "Количество мест изменено"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nКоличество мест подписки %s изменено.",
			event.SubscriptionID)
	case models.ActionSuspend:
		subject = "Подписка приостановлена"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nВаша подписка %s приостановлена. Проверьте состояние оплаты в маркетплейсе.",
			event.SubscriptionID)
	case models.ActionReinstate:
		subject = "Подписка возобновлена"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nВаша подписка %s возобновлена.",
			event.SubscriptionID)
	default:
		subject = "Изменение подписки"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nСостояние вашей подписки %s изменилось: %s.",
			event.SubscriptionID, event.Action)
	}
	return subject, bodyText
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer client.Close()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("failed to set MAIL FROM", "from", s.transport.GetSMTPUser(), "error", sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", "recipient", addr, "error", sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}

	_, err = wc.Write([]byte(msg))
	if err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", "to", to)
	return nil
}
