// Package models содержит доменные структуры, описывающие подписку маркетплейса,
// а также вспомогательные типы для приёма данных из внешних источников (JSON-запросы, webhook).
package models

import "time"

// Статусы подписки, присваиваемые маркетплейсом.
// Логика сервиса различает только Subscribed и все остальные.
const (
	StatusPendingFulfillmentStart = "PendingFulfillmentStart"
	StatusSubscribed              = "Subscribed"
	StatusSuspended               = "Suspended"
	StatusUnsubscribed            = "Unsubscribed"
)

// Principal описывает участника покупки: покупателя или получателя подписки.
// Может быть одним и тем же лицом (покупка для себя).
type Principal struct {
	EmailID  string `json:"emailId"`  // Электронная почта участника
	ObjectID string `json:"objectId"` // Уникальный идентификатор участника в каталоге
	TenantID string `json:"tenantId"` // Идентификатор организации участника
	PUID     string `json:"pid"`      // Внутренний идентификатор аккаунта маркетплейса
}

// Term описывает период действия подписки.
type Term struct {
	TermUnit  string     `json:"termUnit"`            // Единица периода, например P1M или P1Y
	StartDate *time.Time `json:"startDate,omitempty"` // Дата начала периода
	EndDate   *time.Time `json:"endDate,omitempty"`   // Дата окончания периода
}

// Subscription представляет одну покупку в маркетплейсе.
// Все биллинговые поля передаются сквозь сервис без изменений,
// меняется только статус SaasSubscriptionStatus.
type Subscription struct {
	ID                        string     `json:"id"`                                  // Идентификатор подписки, присвоенный маркетплейсом
	PublisherID               string     `json:"publisherId"`                         // Идентификатор издателя в каталоге
	OfferID                   string     `json:"offerId"`                             // Идентификатор предложения
	PlanID                    string     `json:"planId"`                              // Идентификатор тарифного плана
	SaasSubscriptionStatus    string     `json:"saasSubscriptionStatus"`              // Текущий статус подписки
	Purchaser                 Principal  `json:"purchaser"`                           // Покупатель подписки
	Beneficiary               Principal  `json:"beneficiary"`                         // Получатель подписки
	Term                      Term       `json:"term"`                                // Период действия
	AutoRenew                 bool       `json:"autoRenew"`                           // Признак автопродления
	Quantity                  int        `json:"quantity"`                            // Количество приобретённых мест
	IsTest                    bool       `json:"isTest"`                              // Признак тестовой покупки
	IsFreeTrial               bool       `json:"isFreeTrial"`                         // Признак пробного периода
	AllowedCustomerOperations []string   `json:"allowedCustomerOperations,omitempty"` // Операции, доступные покупателю
	SandboxType               string     `json:"sandboxType,omitempty"`               // Тип песочницы маркетплейса
	LastModified              *time.Time `json:"lastModified,omitempty"`              // Время последнего изменения на стороне маркетплейса
}

// IsSubscribed сообщает, активирована ли подписка маркетплейсом.
func (s *Subscription) IsSubscribed() bool {
	return s.SaasSubscriptionStatus == StatusSubscribed
}

// DummyResolveRequest используется для приёма тела запроса на резолв токена.
// Токен приходит от лендинга покупки и передаётся в маркетплейс без изменений.
type DummyResolveRequest struct {
	Token string `json:"token" validate:"required"` // Токен резолва из редиректа покупки
}
