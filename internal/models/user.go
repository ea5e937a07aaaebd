package models

// Роли пользователя внутри организации.
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// LicenseFree — лицензия по умолчанию после отписки.
const LicenseFree = "Free"

// User представляет пользователя организации и его лицензию.
// Пара (TenantID, UserID) уникальна. SubscriptionID ссылается на подписку,
// выдавшую лицензию, либо пуст, если лицензии нет.
type User struct {
	UserID         string `json:"userId"`         // Идентификатор пользователя в каталоге (objectId)
	TenantID       string `json:"tenantId"`       // Идентификатор организации пользователя
	UPN            string `json:"upn"`            // Principal name (почта) пользователя
	Role           string `json:"role"`           // Роль пользователя: Admin или Member
	License        string `json:"license"`        // Идентификатор плана лицензии, пустая строка без лицензии
	SubscriptionID string `json:"subscriptionId"` // Подписка, выдавшая лицензию, пустая строка без лицензии
}
