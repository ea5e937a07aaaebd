// Package webhook реализует HTTP-обработчик уведомлений маркетплейса.
//
// Handler принимает действие маркетплейса (отмена, смена плана, смена
// количества мест, приостановка, возобновление), применяет его к списку
// подписок организации и публикует событие жизненного цикла.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/response"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/sl"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/services/fulfillment"
)

// Handler управляет HTTP-запросами webhook маркетплейса.
type Handler struct {
	log       *slog.Logger        // Логгер для записи информации и ошибок
	service   Service             // Сервис бизнес-логики жизненного цикла подписки
	publisher EventPublisher      // Издатель событий жизненного цикла
	validate  *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики действий маркетплейса.
type Service interface {
	Unsubscribe(ctx context.Context, sub *models.Subscription) error
	ChangePlan(ctx context.Context, sub *models.Subscription, newPlanID string) error
	ChangeQuantity(ctx context.Context, sub *models.Subscription, newQuantity int) error
	UpdateStatus(ctx context.Context, sub *models.Subscription, status string) error
}

// EventPublisher описывает интерфейс публикации событий жизненного цикла.
type EventPublisher interface {
	PublishLifecycleEvent(event models.LifecycleEvent) error
}

// New создает новый Handler с переданными логгером, сервисом и издателем событий.
func New(log *slog.Logger, service Service, publisher EventPublisher) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		publisher: publisher,
		validate:  validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Уведомление маркетплейса
// @Description Применяет действие маркетплейса к подписке: Unsubscribe, ChangePlan, ChangeQuantity, Suspend, Reinstate. Неизвестное действие подтверждается без применения.
// @Tags Fulfillment
// @Accept  json
// @Produce  json
// @Param request body models.WebhookPayload true "Действие и подписка"
// @Success 200 {object} response.Response "Действие применено"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или некорректная подписка"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера при применении действия"
// @Router /fulfillment/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.fulfillment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	log = log.With(
		slog.String("action", payload.Action),
		slog.String("subscription_id", payload.Subscription.ID),
	)

	sub := payload.Subscription
	var err error
	switch payload.Action {
	case models.ActionUnsubscribe:
		err = h.service.Unsubscribe(r.Context(), &sub)
	case models.ActionChangePlan:
		err = h.service.ChangePlan(r.Context(), &sub, payload.PlanID)
	case models.ActionChangeQuantity:
		err = h.service.ChangeQuantity(r.Context(), &sub, payload.Quantity)
	case models.ActionSuspend:
		err = h.service.UpdateStatus(r.Context(), &sub, models.StatusSuspended)
	case models.ActionReinstate:
		err = h.service.UpdateStatus(r.Context(), &sub, models.StatusSubscribed)
	default:
		// Маркетплейс повторяет недоставленные уведомления, поэтому
		// незнакомое действие подтверждаем без применения.
		log.Warn("unknown webhook action, acknowledged without effect")
		render.JSON(w, r, response.OKWithData(map[string]any{
			"action":  payload.Action,
			"ignored": true,
		}))
		return
	}

	if err != nil {
		var malformed *fulfillment.MalformedRequestError
		if errors.As(err, &malformed) {
			log.Error("malformed webhook payload", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(malformed.Reason))
			return
		}
		log.Error("failed to apply webhook action", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not apply webhook action"))
		return
	}

	event := models.LifecycleEvent{
		Action:         payload.Action,
		TenantID:       sub.Purchaser.TenantID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PurchaserEmail: sub.Purchaser.EmailID,
	}
	if payload.Action == models.ActionChangePlan {
		event.PlanID = payload.PlanID
	}
	if err := h.publisher.PublishLifecycleEvent(event); err != nil {
		log.Warn("failed to publish lifecycle event", sl.Err(err))
	}

	log.Info("webhook action applied")
	render.JSON(w, r, response.OKWithData(map[string]any{
		"action": payload.Action,
	}))
}
