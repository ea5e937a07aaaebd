package models

// Organization представляет организацию-арендатора.
// Создаётся пустой при первом резолве для неизвестного tenantId,
// явно никогда не удаляется.
type Organization struct {
	TenantID      string         `json:"tenantId"`      // Уникальный идентификатор арендатора
	Subscriptions []Subscription `json:"subscriptions"` // Полный список подписок организации, уникальных по ID
}

// FindSubscription возвращает подписку организации по её ID или nil.
func (o *Organization) FindSubscription(subscriptionID string) *Subscription {
	for i := range o.Subscriptions {
		if o.Subscriptions[i].ID == subscriptionID {
			return &o.Subscriptions[i]
		}
	}
	return nil
}

// WithoutSubscription возвращает новый список подписок без записи с указанным ID.
// Используется при замене и при отписке: сначала запись убирается из списка,
// затем добавляется её новая версия.
func (o *Organization) WithoutSubscription(subscriptionID string) []Subscription {
	result := make([]Subscription, 0, len(o.Subscriptions))
	for _, sub := range o.Subscriptions {
		if sub.ID != subscriptionID {
			result = append(result, sub)
		}
	}
	return result
}
