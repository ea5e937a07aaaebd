package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// FindOrCreateOrganization возвращает организацию по tenantID,
// создавая пустую запись, если организация ещё не известна.
func (s *Storage) FindOrCreateOrganization(ctx context.Context, tenantID string) (*models.Organization, error) {
	const op = "storage.FindOrCreateOrganization"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO organizations (tenant_id, subscriptions)
			  VALUES ($1, '[]'::jsonb)
			  ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
			  RETURNING tenant_id, subscriptions`
	var org models.Organization
	var rawSubscriptions []byte
	if err := s.DB.QueryRowContext(ctx, query, tenantID).
		Scan(&org.TenantID, &rawSubscriptions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(rawSubscriptions, &org.Subscriptions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &org, nil
}

// FindOrganization возвращает организацию по tenantID без создания.
// Возвращает sql.ErrNoRows, если организации нет.
func (s *Storage) FindOrganization(ctx context.Context, tenantID string) (*models.Organization, error) {
	const op = "storage.FindOrganization"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT tenant_id, subscriptions FROM organizations WHERE tenant_id = $1`
	var org models.Organization
	var rawSubscriptions []byte
	if err := s.DB.QueryRowContext(ctx, query, tenantID).
		Scan(&org.TenantID, &rawSubscriptions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(rawSubscriptions, &org.Subscriptions); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &org, nil
}

// ReplaceSubscriptions атомарно заменяет весь список подписок организации.
// Частичные патчи списка не используются: единица атомарности — весь документ.
func (s *Storage) ReplaceSubscriptions(ctx context.Context, tenantID string, subscriptions []models.Subscription) error {
	const op = "storage.ReplaceSubscriptions"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if subscriptions == nil {
		subscriptions = []models.Subscription{}
	}
	rawSubscriptions, err := json.Marshal(subscriptions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE organizations SET subscriptions = $2 WHERE tenant_id = $1`
	result, err := s.DB.ExecContext(ctx, query, tenantID, rawSubscriptions)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: organization %s not found", op, tenantID)
	}
	return nil
}
