package models

import "time"

// Действия webhook маркетплейса и события жизненного цикла подписки.
const (
	ActionUnsubscribe    = "Unsubscribe"
	ActionChangePlan     = "ChangePlan"
	ActionChangeQuantity = "ChangeQuantity"
	ActionSuspend        = "Suspend"
	ActionReinstate      = "Reinstate"
)

// WebhookPayload используется для приёма уведомления маркетплейса.
// Маркетплейс присылает действие и полную копию подписки.
type WebhookPayload struct {
	Action       string       `json:"action" validate:"required"` // Тип действия маркетплейса
	PlanID       string       `json:"planId"`                     // Новый план для действия ChangePlan
	Quantity     int          `json:"quantity"`                   // Новое количество для действия ChangeQuantity
	Subscription Subscription `json:"subscription"`               // Подписка, к которой относится действие
}

// LifecycleEvent публикуется в очередь после успешной обработки
// резолва или действия webhook. Потребляется сервисом уведомлений.
type LifecycleEvent struct {
	EventID        string    `json:"event_id"`        // Уникальный идентификатор события
	Action         string    `json:"action"`          // Что произошло с подпиской
	TenantID       string    `json:"tenant_id"`       // Организация подписки
	SubscriptionID string    `json:"subscription_id"` // Идентификатор подписки
	PlanID         string    `json:"plan_id"`         // Тарифный план на момент события
	PurchaserEmail string    `json:"purchaser_email"` // Почта покупателя для уведомления
	OccurredAt     time.Time `json:"occurred_at"`     // Время события
}

// ActionActivated — событие успешной активации подписки после резолва.
const ActionActivated = "Activated"
