package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tienda/internal/model"
	"tienda/internal/money"
	"tienda/internal/repository"
)

// cartService implements CartService.
type cartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewCartService creates a cart service. ttl bounds the lifetime of
// anonymous session carts.
func NewCartService(
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	ttl time.Duration,
	logger zerolog.Logger,
) CartService {
	return &cartService{
		cartRepo:    cartRepo,
		productRepo: productRepo,
		ttl:         ttl,
		logger:      logger.With().Str("service", "cart").Logger(),
	}
}

func (s *cartService) GetForUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return s.cartRepo.GetOrCreateForUser(ctx, userID)
}

func (s *cartService) GetForSession(ctx context.Context, sessionID string) (*model.Cart, error) {
	if sessionID == "" {
		return nil, model.NewValidationError("sessionId", "required")
	}
	return s.cartRepo.GetOrCreateForSession(ctx, sessionID, s.ttl)
}

func (s *cartService) AddItem(ctx context.Context, cartID uuid.UUID, req model.AddItemRequest) error {
	if req.Quantity < 0 {
		return model.NewValidationError("quantity", "must not be negative")
	}
	if req.Quantity == 0 {
		return s.cartRepo.RemoveItem(ctx, cartID, req.ProductID, req.VariantID)
	}

	// Catalogue existence check; stock is only enforced at checkout.
	products, err := s.productRepo.GetByIDs(ctx, []uuid.UUID{req.ProductID})
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return model.NewNotFoundError("product", req.ProductID.String())
	}
	if req.VariantID != nil {
		if _, err := s.productRepo.GetVariant(ctx, *req.VariantID); err != nil {
			return err
		}
	}

	return s.cartRepo.UpsertItem(ctx, cartID, model.CartItem{
		ID:        uuid.New(),
		CartID:    cartID,
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	})
}

func (s *cartService) RemoveItem(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) error {
	return s.cartRepo.RemoveItem(ctx, cartID, productID, variantID)
}

func (s *cartService) Clear(ctx context.Context, cartID uuid.UUID) error {
	return s.cartRepo.Clear(ctx, cartID)
}

func (s *cartService) MergeOnLogin(ctx context.Context, sessionID string, userID uuid.UUID) error {
	if sessionID == "" {
		return nil
	}
	if err := s.cartRepo.MergeSessionIntoUser(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("merge cart on login: %w", err)
	}
	s.logger.Debug().
		Str("user_id", userID.String()).
		Msg("session cart merged into user cart")
	return nil
}

// Totals prices the cart against the current catalogue. Variant prices
// override product prices when set.
func (s *cartService) Totals(ctx context.Context, cartID uuid.UUID) (*model.CartTotals, error) {
	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, err
	}

	totals := &model.CartTotals{Subtotal: money.Zero()}
	if len(cart.Items) == 0 {
		return totals, nil
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, item := range cart.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			// Product removed from the catalogue since it was added.
			continue
		}
		price := p.Price
		if item.VariantID != nil {
			v, err := s.productRepo.GetVariant(ctx, *item.VariantID)
			if err != nil {
				return nil, err
			}
			if v.Price != nil {
				price = *v.Price
			}
		}
		totals.Subtotal = totals.Subtotal.Add(price.MulInt(item.Quantity))
		totals.ItemCount += item.Quantity
	}

	return totals, nil
}
