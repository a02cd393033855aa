package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/routebooks/api/internal/config"
	"github.com/routebooks/api/internal/database"
	"github.com/routebooks/api/internal/enum"
	"github.com/routebooks/api/internal/handler"
	mw "github.com/routebooks/api/internal/middleware"
	"github.com/routebooks/api/internal/service"
	"github.com/routebooks/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, sequencer *service.Sequencer) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173", // office dashboard dev server
			"http://localhost:5174", // driver app dev server
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/drivers/{did}/reconciliation", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// User administration
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager))
			userHandler := handler.NewUserHandler(queries)
			r.Route("/users", userHandler.RegisterRoutes)
		})

		// Master data
		customerHandler := handler.NewCustomerHandler(queries)
		r.Route("/customers", customerHandler.RegisterRoutes)

		productHandler := handler.NewProductHandler(queries)
		r.Route("/products", productHandler.RegisterRoutes)

		driverHandler := handler.NewDriverHandler(queries)

		// Summaries are shared between the driver app and the office, so the
		// handlers are built once and mounted in both places.
		summaryHandler := handler.NewSummaryHandler(
			queries,
			pool,
			func(db database.DBTX) handler.SummaryStore {
				return database.New(db)
			},
		)

		r.Route("/drivers", func(r chi.Router) {
			driverHandler.RegisterRoutes(r)
			r.Route("/{did}", summaryHandler.RegisterDriverRoutes)
		})

		// Routes and their customer sequences
		routeHandler := handler.NewRouteHandler(queries, sequencer)
		r.Route("/routes", routeHandler.RegisterRoutes)

		// Driver-day summaries: source logs, sales, reconciliation
		r.Route("/summaries/{sid}", func(r chi.Router) {
			summaryHandler.RegisterRoutes(r)

			salesService := service.NewSalesService(pool, func(db database.DBTX) service.SalesStore {
				return database.New(db)
			})
			saleHandler := handler.NewSaleHandler(queries, salesService, hub)
			r.Route("/sales", saleHandler.RegisterRoutes)

			reconHandler := handler.NewReconciliationHandler(
				queries,
				pool,
				func(db database.DBTX) handler.ReconciliationStore {
					return database.New(db)
				},
				hub,
			)
			reconHandler.RegisterRoutes(r)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
