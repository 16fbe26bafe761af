package routes

import (
	"time"

	"abonnement-backend/config"
	"abonnement-backend/controllers"
	"abonnement-backend/logger"
	"abonnement-backend/middlewares"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Deps carries what the handlers need.
type Deps struct {
	DB   *gorm.DB
	Cfg  config.Config
	Log  *logger.Logger
	Auth *middlewares.Authenticator
	// Now overrides the clock of contract operations; nil means time.Now.
	Now func() time.Time
}

// Register wires all HTTP routes.
func Register(app *fiber.App, d Deps) {
	api := app.Group("/api")

	auth := controllers.NewAuthController(d.DB, d.Auth, d.Log)
	contracts := controllers.NewContractController(d.DB, d.Cfg, d.Log)
	contracts.Now = d.Now
	company := controllers.NewCompanyController(d.Cfg, d.Log)
	company.Now = d.Now

	// Public auth endpoints
	api.Post("/registration", auth.Register)
	api.Post("/login", auth.Login)
	api.Post("/logout", auth.Logout)

	// The tick commits per contract, so it stays out of the request transaction.
	api.Post("/contracts/tick", d.Auth.Handler(), contracts.Tick)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(d.Auth.Handler())

	// Idempotency guard FIRST (not tied to request TX)
	protected.Use(middlewares.Idempotency(d.DB, d.Log))

	// Then per-request tenant transaction (pins search_path and commits/rolls back)
	protected.Use(middlewares.TenantTx(d.DB, d.Log))

	// Company settings
	protected.Get("/company/margins", company.GetMargins)
	protected.Put("/company/margins", company.UpdateMargins)

	// Customers
	protected.Post("/customer", controllers.CreateCustomer)
	protected.Get("/customers", controllers.GetCustomers)
	protected.Get("/customer/:id", controllers.GetCustomer)
	protected.Put("/customer/:id", controllers.UpdateCustomer)

	// Articles
	protected.Post("/article", controllers.CreateArticles) // batch create
	protected.Get("/articles", controllers.GetArticles)
	protected.Put("/articles/:id", controllers.UpdateArticle)

	// Taxes
	protected.Post("/taxes", controllers.CreateTax)
	protected.Get("/taxes", controllers.GetTaxes)

	// Contracts
	protected.Post("/contracts", contracts.CreateContract)
	protected.Get("/contracts", contracts.GetContracts)
	protected.Get("/contracts/:id", contracts.GetContract)
	protected.Put("/contracts/:id", contracts.UpdateContract)
	protected.Post("/contracts/:id/lines", contracts.AddLine)
	protected.Put("/contracts/:id/lines/:lineId", contracts.UpdateLine)
	protected.Delete("/contracts/:id/lines/:lineId", contracts.RemoveLine)
	protected.Put("/contracts/:id/confirm", contracts.Confirm)
	protected.Put("/contracts/:id/cancel", contracts.Cancel)
	protected.Put("/contracts/:id/lock", contracts.Lock)
	protected.Put("/contracts/:id/unlock", contracts.Unlock)
	protected.Put("/contracts/:id/apply-margin-discount", contracts.ApplyMarginDiscount)
	protected.Post("/contracts/:id/generate-invoice", contracts.GenerateInvoice)
	protected.Get("/contracts/:id/invoices", contracts.GetContractInvoices)
	protected.Get("/contracts/:id/events", contracts.GetContractEvents)

	// Invoices (emitted by contracts, read-only here)
	protected.Get("/invoices", controllers.GetInvoices)
	protected.Get("/invoice/:id", controllers.GetInvoice)
}
