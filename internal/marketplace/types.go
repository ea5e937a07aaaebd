package marketplace

import (
	"encoding/json"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// tokenResponse ответ эндпоинта выдачи сервисного токена.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"` // Время жизни в секундах, приходит строкой или числом
}

// resolveResponse ответ маркетплейса на резолв токена покупки.
// Маркетплейс возвращает краткие поля и полную копию подписки.
type resolveResponse struct {
	ID               string              `json:"id"`
	SubscriptionName string              `json:"subscriptionName"`
	OfferID          string              `json:"offerId"`
	PlanID           string              `json:"planId"`
	Quantity         int                 `json:"quantity"`
	Subscription     models.Subscription `json:"subscription"`
}

// ActivationRequest тело запроса активации подписки.
type ActivationRequest struct {
	PlanID   string `json:"planId"`
	Quantity int    `json:"quantity"`
}

// ActivationResponse ответ маркетплейса на запрос активации.
// Непустое поле Message при статусе 2xx означает логическую ошибку:
// API умеет сообщать прикладные ошибки внутри успешного статуса.
type ActivationResponse struct {
	Message string `json:"Message"`
}
