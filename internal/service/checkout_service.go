package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"tienda/internal/config"
	"tienda/internal/coupon"
	"tienda/internal/gateway/mercadopago"
	"tienda/internal/model"
	"tienda/internal/money"
	"tienda/internal/repository"
)

// PaymentGateway creates checkout preferences. Satisfied by the Mercado
// Pago client.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	RedirectURL(p *mercadopago.Preference) string
}

// checkoutService implements CheckoutService.
type checkoutService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	paymentRepo repository.PaymentRepository
	cartRepo    repository.CartRepository
	couponRepo  repository.CouponRepository
	outbox      repository.OutboxRepository
	validator   coupon.Validator
	gateway     PaymentGateway
	taxRate     money.Money
	mpCfg       config.MercadoPagoConfig
	logger      zerolog.Logger

	now func() time.Time
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	paymentRepo repository.PaymentRepository,
	cartRepo repository.CartRepository,
	couponRepo repository.CouponRepository,
	outbox repository.OutboxRepository,
	validator coupon.Validator,
	gateway PaymentGateway,
	orderCfg config.OrderConfig,
	mpCfg config.MercadoPagoConfig,
	logger zerolog.Logger,
) CheckoutService {
	return &checkoutService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		paymentRepo: paymentRepo,
		cartRepo:    cartRepo,
		couponRepo:  couponRepo,
		outbox:      outbox,
		validator:   validator,
		gateway:     gateway,
		taxRate:     money.MustFromString(orderCfg.TaxRatePercent),
		mpCfg:       mpCfg,
		logger:      logger.With().Str("service", "checkout").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder converts a cart into an order. Stock reservation, order
// insert, pending payment and coupon usage commit atomically; the gateway
// preference is created afterwards with no lock held, so a slow gateway
// never blocks other orders on the same products.
func (s *checkoutService) CreateOrder(ctx context.Context, req *model.CheckoutRequest) (*model.CheckoutResponse, error) {
	if err := validateCheckoutRequest(req); err != nil {
		return nil, err
	}

	cart, err := s.cartRepo.GetByID(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, model.ErrCartEmpty
	}

	items, subtotal, err := s.priceItems(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	// Coupon validation happens before the transaction; usage recording
	// happens inside it, where the cap is enforced under the coupon lock.
	var appliedCoupon *model.Coupon
	discount := money.Zero()
	if req.CouponCode != nil && *req.CouponCode != "" {
		appliedCoupon, err = s.validator.Validate(ctx, *req.CouponCode, subtotal)
		if err != nil {
			s.logger.Warn().
				Str("coupon_code", *req.CouponCode).
				Err(err).
				Msg("coupon rejected at checkout")
			return nil, err
		}
		discount = coupon.Discount(appliedCoupon, subtotal)
	}

	tax := subtotal.Sub(discount).Percent(s.taxRate)
	total := subtotal.Add(req.ShippingCost).Add(tax).Sub(discount)

	now := s.now()
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	o := &model.Order{
		ID:              uuid.New(),
		OrderNumber:     orderNumber(now),
		UserID:          req.UserID,
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        subtotal,
		ShippingCost:    req.ShippingCost,
		Discount:        discount,
		Tax:             tax,
		Total:           total,
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range items {
		items[i].OrderID = o.ID
	}
	o.Items = items

	payment := &model.Payment{
		ID:        uuid.New(),
		OrderID:   o.ID,
		Status:    model.PaymentStatusPending,
		Amount:    total,
		Method:    req.PaymentMethod,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.persistOrder(ctx, o, payment, appliedCoupon); err != nil {
		return nil, err
	}

	if err := s.cartRepo.Clear(ctx, cart.ID); err != nil {
		// The order exists; a stale cart is an annoyance, not a failure.
		s.logger.Warn().Err(err).Str("cart_id", cart.ID.String()).Msg("failed to clear cart after checkout")
	}

	resp := &model.CheckoutResponse{Order: o, Payment: payment}

	pref, err := s.createPreference(ctx, o, payment)
	if err != nil {
		// The order stays pending; the customer can retry the payment
		// and the sweeper expires it if they never do.
		s.logger.Error().
			Err(err).
			Str("order_id", o.ID.String()).
			Msg("gateway preference creation failed")
		return resp, model.ErrPaymentFailed
	}
	resp.PaymentURL = s.gateway.RedirectURL(pref)

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("order_number", o.OrderNumber).
		Str("total", o.Total.String()).
		Int("item_count", len(o.Items)).
		Msg("order created")

	return resp, nil
}

// priceItems snapshots catalogue prices into order items. Later catalogue
// changes must not affect this order.
func (s *checkoutService) priceItems(ctx context.Context, cartItems []model.CartItem) ([]model.OrderItem, money.Money, error) {
	ids := make([]uuid.UUID, 0, len(cartItems))
	for _, item := range cartItems {
		ids = append(ids, item.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, money.Zero(), err
	}
	byID := make(map[uuid.UUID]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]model.OrderItem, 0, len(cartItems))
	subtotal := money.Zero()
	for _, ci := range cartItems {
		p, ok := byID[ci.ProductID]
		if !ok {
			return nil, money.Zero(), model.NewNotFoundError("product", ci.ProductID.String())
		}
		price := p.Price
		if ci.VariantID != nil {
			v, err := s.productRepo.GetVariant(ctx, *ci.VariantID)
			if err != nil {
				return nil, money.Zero(), err
			}
			if v.ProductID != p.ID {
				return nil, money.Zero(), model.NewValidationError("variantId", "variant does not belong to product")
			}
			if v.Price != nil {
				price = *v.Price
			}
		}

		lineSubtotal := price.MulInt(ci.Quantity)
		items = append(items, model.OrderItem{
			ID:          uuid.New(),
			ProductID:   ci.ProductID,
			VariantID:   ci.VariantID,
			ProductName: p.Name,
			UnitPrice:   price,
			Quantity:    ci.Quantity,
			Subtotal:    lineSubtotal,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}

	return items, subtotal, nil
}

// persistOrder runs the atomic part of checkout: stock reservation, order
// insert, pending payment and coupon usage.
func (s *checkoutService) persistOrder(ctx context.Context, o *model.Order, payment *model.Payment, appliedCoupon *model.Coupon) error {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.productRepo.Reserve(ctx, tx, o.Items); err != nil {
		return err
	}
	if err := s.orderRepo.Create(ctx, tx, o); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	if appliedCoupon != nil {
		if err := s.couponRepo.RecordUsage(ctx, tx, appliedCoupon.ID, o.ID); err != nil {
			return err
		}
	}
	// The confirmation job commits with the order so neither exists
	// without the other.
	if err := s.enqueueOrderCreated(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *checkoutService) createPreference(ctx context.Context, o *model.Order, payment *model.Payment) (*mercadopago.Preference, error) {
	prefItems := make([]mercadopago.PreferenceItem, 0, len(o.Items)+2)
	for _, item := range o.Items {
		prefItems = append(prefItems, mercadopago.PreferenceItem{
			ID:        item.ProductID.String(),
			Title:     item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Float64(),
			Currency:  "ARS",
		})
	}
	if !o.ShippingCost.IsZero() {
		prefItems = append(prefItems, mercadopago.PreferenceItem{
			ID:        "shipping",
			Title:     "Envío",
			Quantity:  1,
			UnitPrice: o.ShippingCost.Float64(),
			Currency:  "ARS",
		})
	}
	// The gateway rejects non-positive line prices, so when the discount
	// exceeds the tax the itemised lines collapse into a single line for
	// the order total.
	adjustment := o.Tax.Sub(o.Discount)
	switch {
	case adjustment.IsNegative():
		prefItems = []mercadopago.PreferenceItem{{
			ID:        o.ID.String(),
			Title:     "Pedido " + o.OrderNumber,
			Quantity:  1,
			UnitPrice: o.Total.Float64(),
			Currency:  "ARS",
		}}
	case !adjustment.IsZero():
		prefItems = append(prefItems, mercadopago.PreferenceItem{
			ID:        "adjustments",
			Title:     "Impuestos y descuentos",
			Quantity:  1,
			UnitPrice: adjustment.Float64(),
			Currency:  "ARS",
		})
	}

	return s.gateway.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: prefItems,
		Payer: mercadopago.Payer{
			Name:  o.ShippingAddress.Name,
			Email: o.ShippingAddress.Email,
		},
		BackURLs: mercadopago.BackURLs{
			Success: s.mpCfg.SuccessURL,
			Failure: s.mpCfg.FailureURL,
			Pending: s.mpCfg.PendingURL,
		},
		NotificationURL:   s.mpCfg.NotificationURL,
		ExternalReference: payment.ID.String(),
		AutoReturn:        "approved",
	})
}

func (s *checkoutService) enqueueOrderCreated(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	payload, err := json.Marshal(model.OrderRefPayload{OrderID: o.ID})
	if err != nil {
		return fmt.Errorf("marshal order created payload: %w", err)
	}
	if err := s.outbox.Enqueue(ctx, tx, model.JobOrderCreated, payload, s.now()); err != nil {
		return fmt.Errorf("enqueue order created notification: %w", err)
	}
	return nil
}

func validateCheckoutRequest(req *model.CheckoutRequest) error {
	fields := make(map[string]string)

	if req.CartID == uuid.Nil {
		fields["cartId"] = "required"
	}
	if req.PaymentMethod == "" {
		fields["paymentMethod"] = "required"
	}
	if req.ShippingCost.IsNegative() {
		fields["shippingCost"] = "must not be negative"
	}
	validateAddress("shippingAddress", req.ShippingAddress, fields)
	if req.BillingAddress != nil {
		validateAddress("billingAddress", *req.BillingAddress, fields)
	}
	if req.ShippingAddress.Email == "" {
		fields["shippingAddress.email"] = "required"
	} else if _, err := mail.ParseAddress(req.ShippingAddress.Email); err != nil {
		fields["shippingAddress.email"] = "invalid email address"
	}

	if len(fields) > 0 {
		return &model.ValidationError{Fields: fields}
	}
	return nil
}

func validateAddress(prefix string, a model.Address, fields map[string]string) {
	if a.Name == "" {
		fields[prefix+".name"] = "required"
	}
	if a.Line1 == "" {
		fields[prefix+".line1"] = "required"
	}
	if a.City == "" {
		fields[prefix+".city"] = "required"
	}
	if a.PostalCode == "" {
		fields[prefix+".postalCode"] = "required"
	}
	if a.Country == "" {
		fields[prefix+".country"] = "required"
	}
}

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// orderNumber builds a human-readable unique order number, date-prefixed
// so support staff can eyeball when an order was placed.
func orderNumber(now time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the uuid package rather than panic in the order path.
		return fmt.Sprintf("TND-%s-%s", now.Format("20060102"), uuid.NewString()[:6])
	}
	for i := range buf {
		buf[i] = orderNumberAlphabet[int(buf[i])%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("TND-%s-%s", now.Format("20060102"), string(buf))
}
