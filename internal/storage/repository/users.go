package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// UpsertUser создаёт пользователя по ключу (tenant_id, user_id)
// или перезаписывает существующую запись и возвращает её новое состояние.
func (s *Storage) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.UpsertUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (tenant_id, user_id, upn, role, license, subscription_id)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (tenant_id, user_id) DO UPDATE
			  SET upn = EXCLUDED.upn,
			      role = EXCLUDED.role,
			      license = EXCLUDED.license,
			      subscription_id = EXCLUDED.subscription_id
			  RETURNING tenant_id, user_id, upn, role, license, subscription_id`
	result := &models.User{}
	if err := s.DB.QueryRowContext(ctx, query,
		user.TenantID, user.UserID, user.UPN, user.Role, user.License, user.SubscriptionID).
		Scan(&result.TenantID, &result.UserID, &result.UPN, &result.Role,
			&result.License, &result.SubscriptionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindUsersBySubscription возвращает всех пользователей арендатора,
// чья лицензия выдана указанной подпиской.
func (s *Storage) FindUsersBySubscription(ctx context.Context, tenantID, subscriptionID string) ([]*models.User, error) {
	const op = "storage.FindUsersBySubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT tenant_id, user_id, upn, role, license, subscription_id
			  FROM users
			  WHERE tenant_id = $1 AND subscription_id = $2`
	rows, err := s.DB.QueryContext(ctx, query, tenantID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		var u models.User
		if err = rows.Scan(&u.TenantID, &u.UserID, &u.UPN, &u.Role,
			&u.License, &u.SubscriptionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ResetUserLicense сбрасывает лицензионные поля пользователя в состояние
// по умолчанию: роль Member, лицензия Free, без подписки. Остальные поля
// записи (например upn) не затрагиваются.
func (s *Storage) ResetUserLicense(ctx context.Context, tenantID, userID string) error {
	const op = "storage.ResetUserLicense"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET role = $3, license = $4, subscription_id = ''
			  WHERE tenant_id = $1 AND user_id = $2`
	result, err := s.DB.ExecContext(ctx, query, tenantID, userID,
		models.RoleMember, models.LicenseFree)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: user %s/%s not found", op, tenantID, userID)
	}
	return nil
}

// UpdateUsersLicensePlan обновляет план лицензии у всех пользователей,
// привязанных к подписке. Используется при смене тарифного плана.
func (s *Storage) UpdateUsersLicensePlan(ctx context.Context, tenantID, subscriptionID, planID string) error {
	const op = "storage.UpdateUsersLicensePlan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET license = $3
			  WHERE tenant_id = $1 AND subscription_id = $2`
	if _, err := s.DB.ExecContext(ctx, query, tenantID, subscriptionID, planID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
