// Package tenant maps inbound mail to the business it belongs to and
// resolves catalog products for quoting.
package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/storage"
)

// Outcome tags how a product lookup was satisfied.
type Outcome int

const (
	// OutcomeFound means an existing catalog entry matched.
	OutcomeFound Outcome = iota
	// OutcomeCreatedDefault means the catalog was empty and a default
	// entry was created on the fly.
	OutcomeCreatedDefault
)

// Resolver resolves tenants from recipient addresses and products from
// extracted request text.
type Resolver struct {
	store   *storage.Store
	pricing config.PricingConfig
	logger  zerolog.Logger
}

// NewResolver creates a resolver backed by the store.
func NewResolver(store *storage.Store, pricing config.PricingConfig, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:   store,
		pricing: pricing,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// ResolveTenant finds the tenant an inbound message was addressed to.
// Matching is tried in order of confidence: exact address, then alias
// local-part prefix (quotes+anything@ matches quotes@), then the first
// active tenant as a single-tenant deployment fallback. Returns nil
// when no active tenant exists at all.
func (r *Resolver) ResolveTenant(ctx context.Context, toEmail string) (*storage.Tenant, error) {
	addr := strings.ToLower(strings.TrimSpace(toEmail))

	if addr != "" {
		t, err := r.store.GetTenantByEmail(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("tenant lookup failed: %w", err)
		}
		if t != nil {
			return t, nil
		}

		if i := strings.IndexByte(addr, '@'); i > 0 {
			t, err = r.store.GetTenantByAliasPrefix(ctx, addr[:i])
			if err != nil {
				return nil, fmt.Errorf("tenant alias lookup failed: %w", err)
			}
			if t != nil {
				r.logger.Debug().
					Str("to", addr).
					Int64("tenant_id", t.ID).
					Msg("Matched tenant by alias prefix")
				return t, nil
			}
		}
	}

	t, err := r.store.GetFirstActiveTenant(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenant fallback lookup failed: %w", err)
	}
	if t != nil && addr != "" {
		r.logger.Debug().
			Str("to", addr).
			Int64("tenant_id", t.ID).
			Msg("No address match, using first active tenant")
	}
	return t, nil
}

// ResolveProduct finds the catalog entry for a requested product name.
// An exact name match wins; otherwise the first catalog entry whose
// name appears in the request (or vice versa) is used; otherwise the
// first active product. When the catalog is empty a default entry is
// created from the configured pricing so quoting can proceed, tagged
// OutcomeCreatedDefault.
func (r *Resolver) ResolveProduct(ctx context.Context, tenantID int64, name string) (*storage.Product, Outcome, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name != "" {
		p, err := r.store.GetProductByName(ctx, tenantID, name)
		if err != nil {
			return nil, OutcomeFound, fmt.Errorf("product lookup failed: %w", err)
		}
		if p != nil {
			return p, OutcomeFound, nil
		}

		products, err := r.store.ListProducts(ctx, tenantID)
		if err != nil {
			return nil, OutcomeFound, fmt.Errorf("product listing failed: %w", err)
		}
		for _, p := range products {
			pn := strings.ToLower(p.Name)
			if strings.Contains(name, pn) || strings.Contains(pn, name) {
				return p, OutcomeFound, nil
			}
		}
	}

	p, err := r.store.GetFirstActiveProduct(ctx, tenantID)
	if err != nil {
		return nil, OutcomeFound, fmt.Errorf("product fallback lookup failed: %w", err)
	}
	if p != nil {
		return p, OutcomeFound, nil
	}

	created := &storage.Product{
		TenantID:    tenantID,
		Name:        "Custom Item",
		Description: "Auto-created default product",
		RatePerSqIn: r.pricing.BaseRatePerSqIn,
		Active:      true,
	}
	if err := r.store.CreateProduct(ctx, created); err != nil {
		return nil, OutcomeCreatedDefault, fmt.Errorf("failed to create default product: %w", err)
	}

	r.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("product_id", created.ID).
		Msg("Catalog empty, created default product")

	return created, OutcomeCreatedDefault, nil
}
