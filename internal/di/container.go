package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/swiftcart/api/internal/logistics"
	"github.com/swiftcart/api/internal/payments"
	"github.com/swiftcart/api/internal/platform/config"
	"github.com/swiftcart/api/internal/platform/observability"
	"github.com/swiftcart/api/internal/platform/requestctx"
	"github.com/swiftcart/api/internal/repositories"
	"github.com/swiftcart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart        services.CartService
	Eligibility services.EligibilityResolver
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Payments    services.PaymentService
	Shipments   services.ShipmentService
	System      services.SystemService
}

// Container wires repositories, services, and external adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Gateway      *payments.Manager
	Carrier      logistics.Provider
}

// ContainerOption customises assembly, mainly so main can inject adapters that
// need their own lifecycle (Pub/Sub publishers) and tests can stub externals.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	publisher services.ShipmentJobPublisher
	gateway   *payments.Manager
	carrier   logistics.Provider
	logger    *zap.Logger
	build     services.BuildInfo
}

// WithShipmentPublisher supplies the queue used to retry failed shipment bookings.
func WithShipmentPublisher(publisher services.ShipmentJobPublisher) ContainerOption {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithGateway overrides the payment gateway manager built from configuration.
func WithGateway(gateway *payments.Manager) ContainerOption {
	return func(o *containerOptions) {
		o.gateway = gateway
	}
}

// WithCarrier overrides the logistics carrier built from configuration.
func WithCarrier(carrier logistics.Provider) ContainerOption {
	return func(o *containerOptions) {
		o.carrier = carrier
	}
}

// WithLogger sets the base logger for service-level events.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithBuildInfo records version metadata surfaced by the health endpoints.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(o *containerOptions) {
		o.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// adapters; tests can supply in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	gateway := options.gateway
	if gateway == nil {
		built, err := buildGateway(cfg, options.logger)
		if err != nil {
			return nil, err
		}
		gateway = built
	}
	if gateway == nil {
		return nil, errors.New("payment gateway credentials are required")
	}

	carrier := options.carrier
	if carrier == nil {
		built, err := buildCarrier(cfg, options.logger)
		if err != nil {
			return nil, err
		}
		carrier = built
	}
	if carrier == nil {
		return nil, errors.New("logistics carrier configuration is required")
	}

	svc, err := buildServices(cfg, reg, gateway, carrier, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Gateway:      gateway,
		Carrier:      carrier,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// buildGateway assembles the payment manager from whichever providers carry
// credentials. Cashfree is the primary gateway; Stripe is registered when an
// API key is present so currency routing can direct traffic to it.
func buildGateway(cfg config.Config, base *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)

	if cfg.Payments.Cashfree.AppID != "" && cfg.Payments.Cashfree.SecretKey != "" {
		cashfree, err := payments.NewCashfreeProvider(payments.CashfreeProviderConfig{
			AppID:         cfg.Payments.Cashfree.AppID,
			SecretKey:     cfg.Payments.Cashfree.SecretKey,
			BaseURL:       cfg.Payments.Cashfree.BaseURL(),
			WebhookSecret: cfg.Payments.Cashfree.WebhookSecret,
			Timeout:       cfg.Payments.Timeout,
			Logger:        eventLogger(base),
		})
		if err != nil {
			return nil, fmt.Errorf("build cashfree provider: %w", err)
		}
		providers["cashfree"] = cashfree
	}

	if cfg.Payments.Stripe.APIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Payments.Stripe.APIKey,
			WebhookSecret: cfg.Payments.Stripe.WebhookSecret,
			Logger:        eventLogger(base),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
	}

	if len(providers) == 0 {
		return nil, nil
	}

	managerOpts := []payments.ManagerOption{payments.WithCurrencyRoutes(cfg.Payments.CurrencyRoutes)}
	if _, ok := providers[cfg.Payments.DefaultProvider]; ok {
		managerOpts = append(managerOpts, payments.WithDefaultProvider(cfg.Payments.DefaultProvider))
	}
	manager, err := payments.NewManager(providers, managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func buildCarrier(cfg config.Config, base *zap.Logger) (logistics.Provider, error) {
	if cfg.Logistics.Ekart.BaseURL == "" {
		return nil, nil
	}
	client, err := logistics.NewEkartClient(logistics.EkartClientConfig{
		BaseURL:  cfg.Logistics.Ekart.BaseURL,
		ClientID: cfg.Logistics.Ekart.ClientID,
		APIKey:   cfg.Logistics.Ekart.APIKey,
		Timeout:  cfg.Logistics.Ekart.Timeout,
		Logger:   eventLogger(base),
	})
	if err != nil {
		return nil, fmt.Errorf("build ekart client: %w", err)
	}
	return client, nil
}

func buildServices(cfg config.Config, reg repositories.Registry, gateway *payments.Manager, carrier logistics.Provider, options containerOptions) (Services, error) {
	var svc Services

	logger := eventLogger(options.logger)

	eligibility, err := services.NewEligibilityResolver(services.EligibilityResolverDeps{
		Products: reg.Products(),
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build eligibility resolver: %w", err)
	}
	svc.Eligibility = eligibility

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Products:   reg.Products(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	shipmentSvc, err := services.NewShipmentService(services.ShipmentServiceDeps{
		Orders:  reg.Orders(),
		Carrier: carrier,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipment service: %w", err)
	}
	svc.Shipments = shipmentSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     reg.Orders(),
		Events:     reg.WebhookEvents(),
		Gateway:    gateway,
		Shipments:  shipmentSvc,
		RetryQueue: options.publisher,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:      reg.Orders(),
		Carts:       reg.Carts(),
		Products:    reg.Products(),
		Counters:    reg.Counters(),
		Eligibility: eligibility,
		Payments:    gateway,
		Shipments:   shipmentSvc,
		RetryQueue:  options.publisher,
		Discount:    services.FractionDiscount{BasisPoints: cfg.Pricing.DiscountBasisPoints},
		Shipping: services.FlatRateShipping{
			Charge:        cfg.Pricing.ShippingCharge,
			FreeThreshold: cfg.Pricing.FreeShippingMin,
		},
		Currency:    cfg.Payments.Currency,
		CODEnabled:  cfg.Features.EnableCOD,
		Clock:       time.Now,
		Logger:      logger,
		IDGenerator: newOrderID,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Shipments: shipmentSvc,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Counters:         reg.Counters(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// eventLogger bridges structured service events onto the request-scoped zap
// logger, falling back to the supplied base logger outside a request.
func eventLogger(base *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == requestctx.NoopLogger() && base != nil {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func newOrderID() string {
	return "ord_" + ulid.Make().String()
}
