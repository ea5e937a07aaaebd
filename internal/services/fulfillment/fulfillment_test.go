package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/marketplace"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

type MarketplaceMock struct{ mock.Mock }

func (m *MarketplaceMock) GetAppAuthenticationToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MarketplaceMock) FetchSubscription(ctx context.Context, accessToken, resolveToken string) (*models.Subscription, error) {
	args := m.Called(ctx, accessToken, resolveToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MarketplaceMock) ConfirmActivation(ctx context.Context, subscriptionID, accessToken string, req marketplace.ActivationRequest) error {
	args := m.Called(ctx, subscriptionID, accessToken, req)
	return args.Error(0)
}

type OrgRepoMock struct{ mock.Mock }

func (m *OrgRepoMock) FindOrCreateOrganization(ctx context.Context, tenantID string) (*models.Organization, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *OrgRepoMock) FindOrganization(ctx context.Context, tenantID string) (*models.Organization, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *OrgRepoMock) ReplaceSubscriptions(ctx context.Context, tenantID string, subscriptions []models.Subscription) error {
	args := m.Called(ctx, tenantID, subscriptions)
	return args.Error(0)
}

type UserRepoMock struct{ mock.Mock }

func (m *UserRepoMock) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UserRepoMock) FindUsersBySubscription(ctx context.Context, tenantID, subscriptionID string) ([]*models.User, error) {
	args := m.Called(ctx, tenantID, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *UserRepoMock) ResetUserLicense(ctx context.Context, tenantID, userID string) error {
	args := m.Called(ctx, tenantID, userID)
	return args.Error(0)
}

func (m *UserRepoMock) UpdateUsersLicensePlan(ctx context.Context, tenantID, subscriptionID, planID string) error {
	args := m.Called(ctx, tenantID, subscriptionID, planID)
	return args.Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func pendingSubscription() *models.Subscription {
	return &models.Subscription{
		ID:                     "sub-1",
		PublisherID:            "contoso",
		OfferID:                "offer-1",
		PlanID:                 "p1",
		Quantity:               5,
		SaasSubscriptionStatus: models.StatusPendingFulfillmentStart,
		Purchaser: models.Principal{
			EmailID:  "buyer@contoso.com",
			ObjectID: "u1",
			TenantID: "t1",
		},
		Beneficiary: models.Principal{
			EmailID:  "buyer@contoso.com",
			ObjectID: "u1",
			TenantID: "t1",
		},
	}
}

func newService(mp *MarketplaceMock, orgs *OrgRepoMock, users *UserRepoMock, cache *CacheMock) *Service {
	return New(mp, orgs, users, cache, newNoopLogger())
}

func TestResolve_ActivatesPendingSubscription(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
	mp.On("FetchSubscription", mock.Anything, "app-token", "tok-1").
		Return(pendingSubscription(), nil).Once()
	mp.On("ConfirmActivation", mock.Anything, "sub-1", "app-token",
		marketplace.ActivationRequest{PlanID: "p1", Quantity: 5}).Return(nil).Once()

	orgs.On("FindOrCreateOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1"}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		return len(subs) == 1 && subs[0].ID == "sub-1" &&
			subs[0].SaasSubscriptionStatus == models.StatusSubscribed
	})).Return(nil).Once()

	users.On("UpsertUser", mock.Anything, models.User{
		UserID:         "u1",
		TenantID:       "t1",
		UPN:            "buyer@contoso.com",
		Role:           models.RoleAdmin,
		License:        "p1",
		SubscriptionID: "sub-1",
	}).Return(&models.User{}, nil).Once()

	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	sub, err := svc.Resolve(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusSubscribed, sub.SaasSubscriptionStatus)
	mp.AssertExpectations(t)
	orgs.AssertExpectations(t)
	users.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestResolve_SkipsActivationForSubscribed(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()
	sub.SaasSubscriptionStatus = models.StatusSubscribed

	mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
	mp.On("FetchSubscription", mock.Anything, "app-token", "tok-1").Return(sub, nil).Once()

	orgs.On("FindOrCreateOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1"}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.Anything).Return(nil).Once()
	users.On("UpsertUser", mock.Anything, mock.Anything).Return(&models.User{}, nil).Once()
	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	_, err := svc.Resolve(context.Background(), "tok-1")

	require.NoError(t, err)
	mp.AssertNotCalled(t, "ConfirmActivation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mp.AssertExpectations(t)
}

func TestResolve_ReplacesExistingEntry(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	fresh := pendingSubscription()
	fresh.SaasSubscriptionStatus = models.StatusSubscribed
	fresh.Quantity = 20

	stale := *pendingSubscription()
	stale.Quantity = 5
	other := models.Subscription{ID: "sub-2", SaasSubscriptionStatus: models.StatusSubscribed}

	mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
	mp.On("FetchSubscription", mock.Anything, "app-token", "tok-1").Return(fresh, nil).Once()

	orgs.On("FindOrCreateOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1", Subscriptions: []models.Subscription{stale, other}}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		if len(subs) != 2 {
			return false
		}
		// прежняя запись заменена свежей версией, без дубликатов
		return subs[0].ID == "sub-2" && subs[1].ID == "sub-1" && subs[1].Quantity == 20
	})).Return(nil).Once()

	users.On("UpsertUser", mock.Anything, mock.Anything).Return(&models.User{}, nil).Once()
	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	_, err := svc.Resolve(context.Background(), "tok-1")

	require.NoError(t, err)
	orgs.AssertExpectations(t)
}

func TestResolve_UpsertsBothOwnersWhenGifted(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()
	sub.SaasSubscriptionStatus = models.StatusSubscribed
	sub.Beneficiary = models.Principal{
		EmailID:  "colleague@contoso.com",
		ObjectID: "u2",
		TenantID: "t1",
	}

	mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
	mp.On("FetchSubscription", mock.Anything, "app-token", "tok-1").Return(sub, nil).Once()
	orgs.On("FindOrCreateOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1"}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.Anything).Return(nil).Once()

	users.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.UserID == "u1" && u.TenantID == "t1" && u.Role == models.RoleAdmin
	})).Return(&models.User{}, nil).Once()
	users.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.UserID == "u2" && u.TenantID == "t1" && u.Role == models.RoleAdmin
	})).Return(&models.User{}, nil).Once()

	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	_, err := svc.Resolve(context.Background(), "tok-1")

	require.NoError(t, err)
	users.AssertExpectations(t)
	users.AssertNumberOfCalls(t, "UpsertUser", 2)
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		setupMocks func(mp *MarketplaceMock)
		checkErr   func(t *testing.T, err error)
	}{
		{
			name:       "empty resolve token",
			token:      "",
			setupMocks: func(_ *MarketplaceMock) {},
			checkErr: func(t *testing.T, err error) {
				var target *MalformedRequestError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "app token refused",
			token: "tok-1",
			setupMocks: func(mp *MarketplaceMock) {
				mp.On("GetAppAuthenticationToken", mock.Anything).
					Return("", errors.New("aad is down")).Once()
			},
			checkErr: func(t *testing.T, err error) {
				var target *UpstreamResolveError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "marketplace rejects token",
			token: "tok-bad",
			setupMocks: func(mp *MarketplaceMock) {
				mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
				mp.On("FetchSubscription", mock.Anything, "app-token", "tok-bad").
					Return(nil, errors.New("bad token")).Once()
			},
			checkErr: func(t *testing.T, err error) {
				var target *UpstreamResolveError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "activation fails",
			token: "tok-1",
			setupMocks: func(mp *MarketplaceMock) {
				mp.On("GetAppAuthenticationToken", mock.Anything).Return("app-token", nil).Once()
				mp.On("FetchSubscription", mock.Anything, "app-token", "tok-1").
					Return(pendingSubscription(), nil).Once()
				mp.On("ConfirmActivation", mock.Anything, "sub-1", "app-token", mock.Anything).
					Return(errors.New("plan is not available")).Once()
			},
			checkErr: func(t *testing.T, err error) {
				var target *ActivationError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "sub-1", target.SubscriptionID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mp := new(MarketplaceMock)
			orgs := new(OrgRepoMock)
			users := new(UserRepoMock)
			cache := new(CacheMock)
			tt.setupMocks(mp)

			svc := newService(mp, orgs, users, cache)
			_, err := svc.Resolve(context.Background(), tt.token)

			require.Error(t, err)
			tt.checkErr(t, err)
			// при ошибке резолва ни одна запись не выполняется
			orgs.AssertNotCalled(t, "ReplaceSubscriptions", mock.Anything, mock.Anything, mock.Anything)
			users.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything)
			mp.AssertExpectations(t)
		})
	}
}

func TestUnsubscribe_DowngradesUsersAndFlagsSubscription(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()
	sub.SaasSubscriptionStatus = models.StatusSubscribed

	users.On("FindUsersBySubscription", mock.Anything, "t1", "sub-1").
		Return([]*models.User{
			{TenantID: "t1", UserID: "u1", UPN: "buyer@contoso.com"},
			{TenantID: "t1", UserID: "u2", UPN: "colleague@contoso.com"},
		}, nil).Once()
	users.On("ResetUserLicense", mock.Anything, "t1", "u1").Return(nil).Once()
	users.On("ResetUserLicense", mock.Anything, "t1", "u2").Return(nil).Once()

	orgs.On("FindOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1", Subscriptions: []models.Subscription{*sub}}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		// подписка остаётся в списке, но помечена как отписанная
		return len(subs) == 1 && subs[0].ID == "sub-1" &&
			subs[0].SaasSubscriptionStatus == models.StatusUnsubscribed
	})).Return(nil).Once()

	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	err := svc.Unsubscribe(context.Background(), sub)

	require.NoError(t, err)
	users.AssertExpectations(t)
	orgs.AssertExpectations(t)
}

func TestUnsubscribe_AbortsOnUserDowngradeFailure(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()

	users.On("FindUsersBySubscription", mock.Anything, "t1", "sub-1").
		Return([]*models.User{{TenantID: "t1", UserID: "u1"}}, nil).Once()
	users.On("ResetUserLicense", mock.Anything, "t1", "u1").
		Return(errors.New("db error")).Once()

	svc := newService(mp, orgs, users, cache)
	err := svc.Unsubscribe(context.Background(), sub)

	require.Error(t, err)
	var target *UserDowngradeError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "u1", target.UserID)
	// статус подписки не меняется, пока пользователи не сброшены
	orgs.AssertNotCalled(t, "ReplaceSubscriptions", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnsubscribe_MalformedInput(t *testing.T) {
	svc := newService(new(MarketplaceMock), new(OrgRepoMock), new(UserRepoMock), new(CacheMock))

	tests := []struct {
		name string
		sub  *models.Subscription
	}{
		{name: "nil subscription", sub: nil},
		{name: "missing id", sub: &models.Subscription{Purchaser: models.Principal{TenantID: "t1"}}},
		{name: "missing tenant", sub: &models.Subscription{ID: "sub-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Unsubscribe(context.Background(), tt.sub)
			var target *MalformedRequestError
			require.ErrorAs(t, err, &target)
		})
	}
}

func TestChangePlan_UpdatesEntryAndLicenses(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()
	sub.SaasSubscriptionStatus = models.StatusSubscribed

	orgs.On("FindOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1", Subscriptions: []models.Subscription{*sub}}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		return len(subs) == 1 && subs[0].PlanID == "p2"
	})).Return(nil).Once()
	users.On("UpdateUsersLicensePlan", mock.Anything, "t1", "sub-1", "p2").Return(nil).Once()
	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	err := svc.ChangePlan(context.Background(), sub, "p2")

	require.NoError(t, err)
	orgs.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestChangeQuantity_UpdatesEntry(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()

	orgs.On("FindOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1", Subscriptions: []models.Subscription{*sub}}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		return len(subs) == 1 && subs[0].Quantity == 25
	})).Return(nil).Once()
	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	err := svc.ChangeQuantity(context.Background(), sub, 25)

	require.NoError(t, err)
	orgs.AssertExpectations(t)

	err = svc.ChangeQuantity(context.Background(), sub, 0)
	var target *MalformedRequestError
	require.ErrorAs(t, err, &target)
}

func TestUpdateStatus_SuspendsEntry(t *testing.T) {
	mp := new(MarketplaceMock)
	orgs := new(OrgRepoMock)
	users := new(UserRepoMock)
	cache := new(CacheMock)

	sub := pendingSubscription()
	sub.SaasSubscriptionStatus = models.StatusSubscribed

	orgs.On("FindOrganization", mock.Anything, "t1").
		Return(&models.Organization{TenantID: "t1", Subscriptions: []models.Subscription{*sub}}, nil).Once()
	orgs.On("ReplaceSubscriptions", mock.Anything, "t1", mock.MatchedBy(func(subs []models.Subscription) bool {
		return len(subs) == 1 && subs[0].SaasSubscriptionStatus == models.StatusSuspended
	})).Return(nil).Once()
	cache.On("Invalidate", "org:t1").Return(nil).Once()

	svc := newService(mp, orgs, users, cache)
	err := svc.UpdateStatus(context.Background(), sub, models.StatusSuspended)

	require.NoError(t, err)
	orgs.AssertExpectations(t)
}

func TestListSubscriptions(t *testing.T) {
	t.Run("cache hit", func(t *testing.T) {
		orgs := new(OrgRepoMock)
		cache := new(CacheMock)

		cached := []models.Subscription{{ID: "sub-1"}}
		cache.On("Get", "org:t1", mock.Anything).Run(func(args mock.Arguments) {
			out := args.Get(1).(*[]models.Subscription)
			*out = cached
		}).Return(true, nil).Once()

		svc := newService(new(MarketplaceMock), orgs, new(UserRepoMock), cache)
		subs, err := svc.ListSubscriptions(context.Background(), "t1")

		require.NoError(t, err)
		assert.Equal(t, cached, subs)
		orgs.AssertNotCalled(t, "FindOrganization", mock.Anything, mock.Anything)
	})

	t.Run("cache miss loads and caches", func(t *testing.T) {
		orgs := new(OrgRepoMock)
		cache := new(CacheMock)

		stored := []models.Subscription{{ID: "sub-1"}, {ID: "sub-2"}}
		cache.On("Get", "org:t1", mock.Anything).Return(false, nil).Once()
		orgs.On("FindOrganization", mock.Anything, "t1").
			Return(&models.Organization{TenantID: "t1", Subscriptions: stored}, nil).Once()
		cache.On("Set", "org:t1", stored, time.Hour).Return(nil).Once()

		svc := newService(new(MarketplaceMock), orgs, new(UserRepoMock), cache)
		subs, err := svc.ListSubscriptions(context.Background(), "t1")

		require.NoError(t, err)
		assert.Equal(t, stored, subs)
		cache.AssertExpectations(t)
	})

	t.Run("unknown tenant yields empty list", func(t *testing.T) {
		orgs := new(OrgRepoMock)
		cache := new(CacheMock)

		cache.On("Get", "org:t-unknown", mock.Anything).Return(false, nil).Once()
		orgs.On("FindOrganization", mock.Anything, "t-unknown").
			Return(nil, sql.ErrNoRows).Once()

		svc := newService(new(MarketplaceMock), orgs, new(UserRepoMock), cache)
		subs, err := svc.ListSubscriptions(context.Background(), "t-unknown")

		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}
