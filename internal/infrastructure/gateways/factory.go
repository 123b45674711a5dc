// Package gateways builds the payment gateway adapters from configuration and
// hands them out by name or currency.
package gateways

import (
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/gcash"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/httpx"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/maya"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/paypal"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways/stripe"
	"github.com/cassiomorais/paygate/internal/infrastructure/observability"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Names lists every gateway the factory knows, in a stable order.
func Names() []string {
	return []string{gcash.Name, maya.Name, stripe.Name, paypal.Name}
}

// IsKnown reports whether name (any case) is one of Names.
func IsKnown(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case gcash.Name, maya.Name, stripe.Name, paypal.Name:
		return true
	}
	return false
}

// Factory holds one instrumented adapter per configured gateway. It is
// read-only after construction and safe for concurrent use.
type Factory struct {
	gateways    map[string]gateway.Gateway
	defaultName string
	logger      zerolog.Logger
}

// New builds every gateway that has credentials. Gateways without
// credentials are skipped with a warning; Create reports them as
// misconfigured. The default gateway must be buildable.
func New(cfg config.GatewaysConfig, httpCfg config.HTTPClientConfig, metrics *observability.Metrics, logger zerolog.Logger) (*Factory, error) {
	readRetry := retry.Config{
		MaxAttempts:  httpCfg.VerifyRetries,
		InitialDelay: httpCfg.VerifyRetryDelay,
		MaxDelay:     4 * httpCfg.VerifyRetryDelay,
	}

	httpClient := func(name string) httpx.Options {
		opts := httpx.Options{
			Name:             name,
			Timeout:          httpCfg.Timeout,
			BreakerThreshold: httpCfg.CircuitBreakerThreshold,
			BreakerTimeout:   httpCfg.CircuitBreakerTimeout,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("gateway", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
				if metrics != nil {
					metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		}
		if metrics != nil {
			opts.OnResult = func(name, result string) {
				metrics.CircuitBreakerRequests.WithLabelValues(name, result).Inc()
			}
		}
		return opts
	}

	built := make([]gateway.Gateway, 0, 4)
	add := func(name string, g gateway.Gateway, err error) {
		if err != nil {
			logger.Warn().Err(err).Str("gateway", name).Msg("Gateway not configured, skipping")
			return
		}
		built = append(built, g)
	}

	g, err := gcash.New(gcash.Config{
		BaseURL:       cfg.GCash.BaseURL,
		SecretKey:     cfg.GCash.SecretKey,
		MerchantID:    cfg.GCash.MerchantID,
		WebhookSecret: cfg.GCash.WebhookSecret,
	}, httpx.NewHTTPClient(httpClient(gcash.Name)), readRetry, observability.GatewayLogger(logger, gcash.Name))
	add(gcash.Name, g, err)

	m, err := maya.New(maya.Config{
		BaseURL:       cfg.Maya.BaseURL,
		PublicKey:     cfg.Maya.PublicKey,
		SecretKey:     cfg.Maya.SecretKey,
		WebhookSecret: cfg.Maya.WebhookSecret,
	}, httpx.NewHTTPClient(httpClient(maya.Name)), readRetry, observability.GatewayLogger(logger, maya.Name))
	add(maya.Name, m, err)

	s, err := stripe.New(stripe.Config{
		BaseURL:       cfg.Stripe.BaseURL,
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, httpx.NewHTTPClient(httpClient(stripe.Name)), readRetry, observability.GatewayLogger(logger, stripe.Name))
	add(stripe.Name, s, err)

	p, err := paypal.New(paypal.Config{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		BrandName:    cfg.PayPal.BrandName,
	}, httpx.NewHTTPClient(httpClient(paypal.Name)), readRetry, observability.GatewayLogger(logger, paypal.Name))
	add(paypal.Name, p, err)

	f := NewWithGateways(cfg.Default, metrics, logger, built...)
	if _, err := f.Default(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewWithGateways wraps already built adapters. Adapters are registered
// under their Name.
func NewWithGateways(defaultName string, metrics *observability.Metrics, logger zerolog.Logger, gws ...gateway.Gateway) *Factory {
	f := &Factory{
		gateways:    make(map[string]gateway.Gateway, len(gws)),
		defaultName: strings.ToLower(strings.TrimSpace(defaultName)),
		logger:      logger,
	}
	if f.defaultName == "" {
		f.defaultName = gcash.Name
	}
	for _, g := range gws {
		f.gateways[g.Name()] = instrument(g, metrics, logger)
	}
	return f
}

// Create returns the gateway registered under name, matched case-insensitively.
func (f *Factory) Create(name string) (gateway.Gateway, error) {
	switch key := strings.ToLower(strings.TrimSpace(name)); key {
	case gcash.Name, maya.Name, stripe.Name, paypal.Name:
		g, ok := f.gateways[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no credentials", domainErrors.ErrGatewayMisconfigured, key)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w %q", domainErrors.ErrUnsupportedGateway, name)
	}
}

// ForCurrency picks the regional wallet for PHP and the card processor for
// everything else. It does not check SupportsCurrency.
func (f *Factory) ForCurrency(code string) (gateway.Gateway, error) {
	if gateway.NormalizeCurrency(code) == "PHP" {
		return f.Create(gcash.Name)
	}
	return f.Create(stripe.Name)
}

// Default returns the configured default gateway.
func (f *Factory) Default() (gateway.Gateway, error) {
	return f.Create(f.defaultName)
}

// DefaultName is the configured default gateway name.
func (f *Factory) DefaultName() string {
	return f.defaultName
}

// Available lists the configured gateways in Names order.
func (f *Factory) Available() []string {
	out := make([]string, 0, len(f.gateways))
	for _, name := range Names() {
		if _, ok := f.gateways[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
