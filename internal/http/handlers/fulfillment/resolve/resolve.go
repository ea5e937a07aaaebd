// Package resolve реализует HTTP-обработчик резолва токена покупки.
//
// Handler принимает JSON-запрос с токеном из редиректа лендинга покупки,
// валидирует его, вызывает бизнес-логику резолва и активации подписки
// и возвращает подписку в итоговом состоянии в JSON-формате.
//
// В случае ошибок формируются соответствующие HTTP-ответы с описанием проблемы.
package resolve

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

// Handler управляет HTTP-запросами на резолв токена покупки.
//
// Использует логгер для записи операций и ошибок,
// сервис бизнес-логики для резолва и активации подписки,
// издатель событий для уведомлений и валидатор входных данных.
type Handler struct {
	log       *slog.Logger        // Логгер для записи информации и ошибок
	service   Service             // Сервис бизнес-логики резолва подписки
	publisher EventPublisher      // Издатель событий жизненного цикла
	validate  *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики резолва подписки.
type Service interface {
	Resolve(ctx context.Context, resolveToken string) (*models.Subscription, error)
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
// @Summary Резолв токена покупки
// @Description Обменивает токен из редиректа лендинга на подписку, активирует её в маркетплейсе и выдаёт лицензии владельцам.
// @Tags Fulfillment
// @Accept  json
// @Produce  json
// @Param request body models.DummyResolveRequest true "Токен резолва"
// @Success 200 {object} map[string]any "Подписка в итоговом состоянии"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или токен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Маркетплейс недоступен или отклонил запрос"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера при сохранении подписки"
// @Router /fulfillment/resolve [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.fulfillment.resolve"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	sub, err := h.service.Resolve(r.Context(), req.Token)
	if err != nil {
		var malformed *fulfillment.MalformedRequestError
		var upstream *fulfillment.UpstreamResolveError
		var activation *fulfillment.ActivationError
		switch {
		case errors.As(err, &malformed):
			log.Error("malformed resolve request", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(malformed.Reason))
		case errors.As(err, &upstream):
			log.Error("marketplace rejected resolve", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("could not resolve purchase token"))
		case errors.As(err, &activation):
			log.Error("marketplace rejected activation", sl.Err(err))
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("could not activate subscription"))
		default:
			log.Error("failed to resolve subscription", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not resolve subscription"))
		}
		return
	}

	event := models.LifecycleEvent{
		Action:         models.ActionActivated,
		TenantID:       sub.Purchaser.TenantID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PurchaserEmail: sub.Purchaser.EmailID,
	}
	if err := h.publisher.PublishLifecycleEvent(event); err != nil {
		// уведомление не критично для резолва
		log.Warn("failed to publish lifecycle event", sl.Err(err))
	}

	log.Info("subscription resolved",
		slog.String("subscription_id", sub.ID),
		slog.String("status", sub.SaasSubscriptionStatus))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription": sub,
	}))
}
