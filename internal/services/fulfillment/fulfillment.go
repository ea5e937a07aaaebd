// Package fulfillment содержит бизнес-логику согласования жизненного цикла
// подписок маркетплейса: резолв токена покупки в активную подписку,
// синхронизацию списка подписок организации, выдачу и отзыв лицензий
// владельцев. Операции идемпотентны: повторный резолв заменяет запись,
// а не добавляет дубликат, обновление пользователей выполняется через upsert.
package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/sl"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/marketplace"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// OrganizationRepository определяет методы работы с организациями в хранилище.
type OrganizationRepository interface {
	// FindOrCreateOrganization возвращает организацию, создавая пустую при отсутствии.
	FindOrCreateOrganization(ctx context.Context, tenantID string) (*models.Organization, error)
	// FindOrganization возвращает организацию без создания.
	FindOrganization(ctx context.Context, tenantID string) (*models.Organization, error)
	// ReplaceSubscriptions атомарно заменяет весь список подписок организации.
	ReplaceSubscriptions(ctx context.Context, tenantID string, subscriptions []models.Subscription) error
}

// UserRepository определяет методы работы с пользователями арендатора.
type UserRepository interface {
	// UpsertUser создаёт или перезаписывает пользователя по ключу (tenantID, userID).
	UpsertUser(ctx context.Context, user models.User) (*models.User, error)
	// FindUsersBySubscription возвращает пользователей, привязанных к подписке.
	FindUsersBySubscription(ctx context.Context, tenantID, subscriptionID string) ([]*models.User, error)
	// ResetUserLicense сбрасывает лицензионные поля пользователя.
	ResetUserLicense(ctx context.Context, tenantID, userID string) error
	// UpdateUsersLicensePlan меняет план лицензии у пользователей подписки.
	UpdateUsersLicensePlan(ctx context.Context, tenantID, subscriptionID, planID string) error
}

// MarketplaceAPI определяет исходящие вызовы к fulfillment API маркетплейса.
type MarketplaceAPI interface {
	// GetAppAuthenticationToken возвращает кешированный сервисный токен приложения.
	GetAppAuthenticationToken(ctx context.Context) (string, error)
	// FetchSubscription обменивает токен резолва на данные подписки.
	FetchSubscription(ctx context.Context, accessToken, resolveToken string) (*models.Subscription, error)
	// ConfirmActivation подтверждает активацию подписки.
	ConfirmActivation(ctx context.Context, subscriptionID, accessToken string, req marketplace.ActivationRequest) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует согласование жизненного цикла подписок.
type Service struct {
	marketplace MarketplaceAPI
	orgs        OrganizationRepository
	users       UserRepository
	cache       Cache
	log         *slog.Logger
}

// New создает новый экземпляр Service.
func New(mp MarketplaceAPI, orgs OrganizationRepository, users UserRepository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		marketplace: mp,
		orgs:        orgs,
		users:       users,
		cache:       cache,
		log:         log,
	}
}

func orgCacheKey(tenantID string) string {
	return fmt.Sprintf("org:%s", tenantID)
}

// Resolve обменивает токен резолва на подписку, при необходимости активирует её
// в маркетплейсе, заменяет запись в списке подписок организации и выдаёт
// лицензии владельцам. Возвращает подписку в итоговом состоянии.
//
// Порядок шагов фиксирован; при ошибке на любом шаге уже выполненные записи
// не откатываются — повторный вызов с тем же токеном безопасен.
func (s *Service) Resolve(ctx context.Context, resolveToken string) (*models.Subscription, error) {
	const op = "services.fulfillment.Resolve"

	if resolveToken == "" {
		return nil, &MalformedRequestError{Reason: "empty resolve token"}
	}

	accessToken, err := s.marketplace.GetAppAuthenticationToken(ctx)
	if err != nil {
		s.log.Error("failed to obtain app token", slog.String("op", op), sl.Err(err))
		return nil, &UpstreamResolveError{Err: err}
	}

	sub, err := s.marketplace.FetchSubscription(ctx, accessToken, resolveToken)
	if err != nil {
		s.log.Error("failed to resolve token", slog.String("op", op), sl.Err(err))
		return nil, &UpstreamResolveError{Err: err}
	}
	if sub.ID == "" || sub.Purchaser.TenantID == "" {
		return nil, &MalformedRequestError{Reason: "subscription without id or purchaser tenant"}
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", sub.Purchaser.TenantID),
		slog.String("subscription_id", sub.ID),
	)

	// Активация строго однократная: уже активную подписку не трогаем.
	if !sub.IsSubscribed() {
		err = s.marketplace.ConfirmActivation(ctx, sub.ID, accessToken, marketplace.ActivationRequest{
			PlanID:   sub.PlanID,
			Quantity: sub.Quantity,
		})
		if err != nil {
			log.Error("failed to activate subscription", sl.Err(err))
			return nil, &ActivationError{SubscriptionID: sub.ID, Err: err}
		}
		sub.SaasSubscriptionStatus = models.StatusSubscribed
		log.Info("subscription activated", slog.String("plan_id", sub.PlanID),
			slog.Int("quantity", sub.Quantity))
	}

	org, err := s.orgs.FindOrCreateOrganization(ctx, sub.Purchaser.TenantID)
	if err != nil {
		log.Error("failed to find or create organization", sl.Err(err))
		return nil, err
	}

	// Замена, а не слияние: прежняя запись с тем же id убирается из списка,
	// свежая версия дописывается в конец.
	subscriptions := append(org.WithoutSubscription(sub.ID), *sub)
	if err = s.orgs.ReplaceSubscriptions(ctx, org.TenantID, subscriptions); err != nil {
		log.Error("failed to replace subscription list", sl.Err(err))
		return nil, err
	}

	for _, owner := range subscriptionOwners(sub) {
		user := models.User{
			UserID:   owner.ObjectID,
			TenantID: sub.Purchaser.TenantID,
			UPN:      owner.EmailID,
			Role:     models.RoleMember,
		}
		if sub.IsSubscribed() {
			user.Role = models.RoleAdmin
			user.License = sub.PlanID
			user.SubscriptionID = sub.ID
		}
		if _, err = s.users.UpsertUser(ctx, user); err != nil {
			log.Error("failed to upsert owner", slog.String("user_id", owner.ObjectID), sl.Err(err))
			return nil, err
		}
	}

	s.invalidateOrganization(sub.Purchaser.TenantID)
	log.Info("subscription resolved", slog.String("status", sub.SaasSubscriptionStatus))
	return sub, nil
}

// subscriptionOwners возвращает владельцев подписки: покупателя и,
// если это другое лицо, получателя.
func subscriptionOwners(sub *models.Subscription) []models.Principal {
	owners := []models.Principal{sub.Purchaser}
	if sub.Beneficiary.ObjectID != sub.Purchaser.ObjectID {
		owners = append(owners, sub.Beneficiary)
	}
	return owners
}

// Unsubscribe отзывает лицензии всех пользователей подписки и помечает
// её в списке организации статусом Unsubscribed. Запись из списка
// не удаляется: история подписок сохраняется для аудита.
//
// Сначала сбрасываются пользователи, затем меняется статус подписки:
// при сбое между шагами пользователи уже без доступа, что безопаснее
// обратного порядка.
func (s *Service) Unsubscribe(ctx context.Context, sub *models.Subscription) error {
	const op = "services.fulfillment.Unsubscribe"

	if sub == nil || sub.ID == "" || sub.Purchaser.TenantID == "" {
		return &MalformedRequestError{Reason: "subscription without id or purchaser tenant"}
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", sub.Purchaser.TenantID),
		slog.String("subscription_id", sub.ID),
	)

	users, err := s.users.FindUsersBySubscription(ctx, sub.Purchaser.TenantID, sub.ID)
	if err != nil {
		log.Error("failed to find subscription users", sl.Err(err))
		return err
	}
	for _, user := range users {
		if err = s.users.ResetUserLicense(ctx, user.TenantID, user.UserID); err != nil {
			log.Error("failed to downgrade user", slog.String("user_id", user.UserID), sl.Err(err))
			return &UserDowngradeError{TenantID: user.TenantID, UserID: user.UserID, Err: err}
		}
	}
	log.Info("subscription users downgraded", slog.Int("count", len(users)))

	org, err := s.orgs.FindOrganization(ctx, sub.Purchaser.TenantID)
	if err != nil {
		log.Error("failed to load organization", sl.Err(err))
		return err
	}

	updated := *sub
	if existing := org.FindSubscription(sub.ID); existing != nil {
		updated = *existing
	}
	updated.SaasSubscriptionStatus = models.StatusUnsubscribed

	subscriptions := append(org.WithoutSubscription(sub.ID), updated)
	if err = s.orgs.ReplaceSubscriptions(ctx, org.TenantID, subscriptions); err != nil {
		log.Error("failed to replace subscription list", sl.Err(err))
		return err
	}

	s.invalidateOrganization(sub.Purchaser.TenantID)
	log.Info("subscription unsubscribed")
	return nil
}

// ChangePlan обновляет тарифный план подписки в списке организации
// и план лицензии у всех привязанных пользователей.
func (s *Service) ChangePlan(ctx context.Context, sub *models.Subscription, newPlanID string) error {
	const op = "services.fulfillment.ChangePlan"

	if newPlanID == "" {
		return &MalformedRequestError{Reason: "empty plan id"}
	}

	err := s.mutateSubscription(ctx, op, sub, func(entry *models.Subscription) {
		entry.PlanID = newPlanID
	})
	if err != nil {
		return err
	}

	if err = s.users.UpdateUsersLicensePlan(ctx, sub.Purchaser.TenantID, sub.ID, newPlanID); err != nil {
		s.log.Error("failed to update user licenses", slog.String("op", op),
			slog.String("subscription_id", sub.ID), sl.Err(err))
		return err
	}
	return nil
}

// ChangeQuantity обновляет количество мест подписки в списке организации.
func (s *Service) ChangeQuantity(ctx context.Context, sub *models.Subscription, newQuantity int) error {
	const op = "services.fulfillment.ChangeQuantity"

	if newQuantity <= 0 {
		return &MalformedRequestError{Reason: "quantity must be positive"}
	}

	return s.mutateSubscription(ctx, op, sub, func(entry *models.Subscription) {
		entry.Quantity = newQuantity
	})
}

// UpdateStatus переводит подписку в новый статус (Suspended, Subscribed и пр.)
// без изменения остальных полей.
func (s *Service) UpdateStatus(ctx context.Context, sub *models.Subscription, status string) error {
	const op = "services.fulfillment.UpdateStatus"

	if status == "" {
		return &MalformedRequestError{Reason: "empty status"}
	}

	return s.mutateSubscription(ctx, op, sub, func(entry *models.Subscription) {
		entry.SaasSubscriptionStatus = status
	})
}

// mutateSubscription применяет изменение к записи подписки в списке
// организации по общей схеме: прочитать весь список, изменить запись,
// атомарно записать новый список.
func (s *Service) mutateSubscription(ctx context.Context, op string, sub *models.Subscription, mutate func(*models.Subscription)) error {
	if sub == nil || sub.ID == "" || sub.Purchaser.TenantID == "" {
		return &MalformedRequestError{Reason: "subscription without id or purchaser tenant"}
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("tenant_id", sub.Purchaser.TenantID),
		slog.String("subscription_id", sub.ID),
	)

	org, err := s.orgs.FindOrganization(ctx, sub.Purchaser.TenantID)
	if err != nil {
		log.Error("failed to load organization", sl.Err(err))
		return err
	}

	updated := *sub
	if existing := org.FindSubscription(sub.ID); existing != nil {
		updated = *existing
	}
	mutate(&updated)

	subscriptions := append(org.WithoutSubscription(sub.ID), updated)
	if err = s.orgs.ReplaceSubscriptions(ctx, org.TenantID, subscriptions); err != nil {
		log.Error("failed to replace subscription list", sl.Err(err))
		return err
	}

	s.invalidateOrganization(sub.Purchaser.TenantID)
	log.Info("subscription updated")
	return nil
}

// ListSubscriptions возвращает список подписок организации, используя кеш.
// Для неизвестного арендатора возвращается пустой список.
func (s *Service) ListSubscriptions(ctx context.Context, tenantID string) ([]models.Subscription, error) {
	const op = "services.fulfillment.ListSubscriptions"

	if tenantID == "" {
		return nil, &MalformedRequestError{Reason: "empty tenant id"}
	}

	cacheKey := orgCacheKey(tenantID)
	var cached []models.Subscription
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return cached, nil
	}

	org, err := s.orgs.FindOrganization(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.Subscription{}, nil
	}
	if err != nil {
		s.log.Error("failed to load organization", slog.String("op", op),
			slog.String("tenant_id", tenantID), sl.Err(err))
		return nil, err
	}

	if err = s.cache.Set(cacheKey, org.Subscriptions, time.Hour); err != nil {
		s.log.Warn("failed to cache subscriptions", slog.String("key", cacheKey), sl.Err(err))
	}
	return org.Subscriptions, nil
}

// invalidateOrganization убирает кешированный список подписок арендатора.
func (s *Service) invalidateOrganization(tenantID string) {
	cacheKey := orgCacheKey(tenantID)
	if err := s.cache.Invalidate(cacheKey); err != nil {
		s.log.Warn("failed to invalidate cache", slog.String("key", cacheKey), sl.Err(err))
	}
}
