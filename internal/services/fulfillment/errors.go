package fulfillment

import "fmt"

// Закрытый набор ошибок сервиса. Вызывающая сторона различает категории
// через errors.As и решает, имеет ли смысл повторять запрос:
// MalformedRequestError и ActivationError повторять бессмысленно,
// UpstreamResolveError может быть повторена с тем же токеном.

// MalformedRequestError означает некорректную форму входных данных.
type MalformedRequestError struct {
	Reason string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request: %s", e.Reason)
}

// UpstreamResolveError означает отказ маркетплейса при обмене
// токена резолва или получении данных подписки.
type UpstreamResolveError struct {
	Err error
}

func (e *UpstreamResolveError) Error() string {
	return fmt.Sprintf("marketplace resolve failed: %v", e.Err)
}

func (e *UpstreamResolveError) Unwrap() error { return e.Err }

// ActivationError означает отказ маркетплейса при активации подписки,
// в том числе логическую ошибку внутри успешного HTTP-статуса.
type ActivationError struct {
	SubscriptionID string
	Err            error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation of subscription %s failed: %v", e.SubscriptionID, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// UserDowngradeError означает сбой сброса лицензии одного из пользователей
// при отписке. Уже обработанные пользователи остаются со сброшенной лицензией,
// компенсирующего отката нет.
type UserDowngradeError struct {
	TenantID string
	UserID   string
	Err      error
}

func (e *UserDowngradeError) Error() string {
	return fmt.Sprintf("downgrade of user %s in tenant %s failed: %v", e.UserID, e.TenantID, e.Err)
}

func (e *UserDowngradeError) Unwrap() error { return e.Err }
