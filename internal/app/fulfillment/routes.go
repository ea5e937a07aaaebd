// Package fulfillment предоставляет сборку и маршруты основного приложения.
package fulfillment

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/handlers/fulfillment/health"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/handlers/fulfillment/list"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/handlers/fulfillment/resolve"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/handlers/fulfillment/webhook"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/http/middlewarectx"
	jwtlib "github.com/magabrotheeeer/marketplace-fulfillment/internal/lib/jwt"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/rabbitmq"
	fulfillmentservice "github.com/magabrotheeeer/marketplace-fulfillment/internal/services/fulfillment"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger,
	service *fulfillmentservice.Service,
	publisher *rabbitmq.LifecyclePublisher,
	storage *repository.Storage,
	jwtMaker jwtlib.Maker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Конечные точки маркетплейса: аутентификация на стороне
		// маркетплейса, токены проверяет сам сервис резолва
		r.Post("/fulfillment/resolve", resolve.New(logger, service, publisher).ServeHTTP)
		r.Post("/fulfillment/webhook", webhook.New(logger, service, publisher).ServeHTTP)

		// Группа с JWT аутентификацией для API арендаторов
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Get("/subscriptions", list.New(logger, service).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, storage).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
