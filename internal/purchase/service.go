// Package purchase starts buy and upgrade flows: it prices the request,
// creates the gateway order and records the pending order.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/gateway"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/store"
	"github.com/noah-isme/pass-ticketing/internal/tier"
)

// Currency charged for every order.
const Currency = "INR"

// Error codes returned by the service.
const (
	CodePassNotFound    = "PASS_NOT_FOUND"
	CodeOutOfStock      = "OUT_OF_STOCK"
	CodeNoExistingPass  = "NO_EXISTING_PASS"
	CodeInvalidUpgrade  = "INVALID_UPGRADE"
	CodeUnknownTier     = "UNKNOWN_TIER"
	CodeAmountMismatch  = "AMOUNT_MISMATCH"
	CodeStaleVersion    = "STALE_VERSION"
	CodeCalculation     = "CALCULATION_ERROR"
	CodeGateway         = "GATEWAY_ERROR"
	CodeGatewayConfig   = "GATEWAY_MISCONFIGURED"
	CodeInvalidIdentity = "UNAUTHORIZED"
)

// Store is the persistence the purchase flow needs.
type Store interface {
	GetPass(ctx context.Context, id int64) (store.Pass, error)
	SuccessfulPasses(ctx context.Context, userID uuid.UUID) ([]store.Pass, error)
	CheckStock(ctx context.Context, passID, version int64) error
	CreatePendingOrder(ctx context.Context, in store.NewOrder) (store.Order, error)
}

// Gateway creates payment orders.
type Gateway interface {
	CreateOrder(ctx context.Context, in gateway.OrderRequest) (gateway.Order, error)
}

// Request is a buy or upgrade attempt. ExpectedAmount is in rupees and must
// equal the server computed price; Version optionally pins the pass row version.
type Request struct {
	UserID         string
	PassID         int64
	ExpectedAmount int64
	Version        *int64
}

// UpgradeDetails describes the move between tiers.
type UpgradeDetails struct {
	FromPass     store.PassSummary `json:"from_pass"`
	ToPass       store.PassSummary `json:"to_pass"`
	UpgradePrice int64             `json:"upgrade_price"`
}

// Result is the outcome of a successful initiation.
type Result struct {
	GatewayOrder gateway.Order
	Order        store.Order
	Pass         store.PassSummary
	AmountMajor  int64
	Upgrade      *UpgradeDetails
}

// Service implements the buy and upgrade flows.
type Service struct {
	Store   Store
	Gateway Gateway
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Buy starts a first-time purchase of req.PassID.
func (s *Service) Buy(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("purchase").Start(ctx, "purchase.Buy")
	defer span.End()
	span.SetAttributes(attribute.Int64("pass.id", req.PassID))

	userID, pass, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkAmount(ctx, req, pass.Price); err != nil {
		return Result{}, err
	}
	order, err := s.createOrder(ctx, "buy", gateway.OrderRequest{
		Amount:   pass.Price * 100,
		Currency: Currency,
		Receipt:  gateway.Receipt(req.UserID, pass.ID, gateway.KindPurchase, s.now()),
	})
	if err != nil {
		return Result{}, err
	}
	pending, err := s.recordPending(ctx, userID, pass.ID, order)
	if err != nil {
		return Result{}, err
	}
	return Result{GatewayOrder: order, Order: pending, Pass: pass.Summary(), AmountMajor: pass.Price}, nil
}

// Upgrade starts a move from the user's highest confirmed tier to req.PassID,
// charging only the price difference.
func (s *Service) Upgrade(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("purchase").Start(ctx, "purchase.Upgrade")
	defer span.End()
	span.SetAttributes(attribute.Int64("pass.id", req.PassID))

	userID, target, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	owned, err := s.Store.SuccessfulPasses(ctx, userID)
	if err != nil {
		s.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("load owned passes")
		return Result{}, common.Internal(err)
	}
	tiers := make([]tier.PassTier, 0, len(owned))
	byType := make(map[string]store.Pass, len(owned))
	for _, p := range owned {
		tiers = append(tiers, tier.PassTier{Type: p.Type, Price: p.Price})
		if _, seen := byType[p.Type]; !seen {
			byType[p.Type] = p
		}
	}
	if len(owned) == 0 {
		return Result{}, common.Conflict(CodeNoExistingPass, "No existing pass to upgrade from")
	}
	best, ok := tier.Highest(tiers)
	if !ok {
		return Result{}, common.BadRequest(CodeUnknownTier, "Could not determine current pass tier", nil)
	}
	current := byType[best.Type]

	price, err := tier.UpgradePrice(best, tier.PassTier{Type: target.Type, Price: target.Price})
	switch {
	case errors.Is(err, tier.ErrInvalidUpgrade):
		return Result{}, common.Conflict(CodeInvalidUpgrade, fmt.Sprintf("Cannot upgrade from %s to %s", current.Type, target.Type))
	case errors.Is(err, tier.ErrCalculation):
		s.Logger.Error().Int64("from_pass_id", current.ID).Int64("to_pass_id", target.ID).Msg("non-positive upgrade price")
		return Result{}, common.NewAppError(CodeCalculation, "Upgrade price calculation failed", http.StatusInternalServerError, err)
	case err != nil:
		return Result{}, common.Internal(err)
	}
	if err := s.checkAmount(ctx, req, price); err != nil {
		return Result{}, err
	}

	order, err := s.createOrder(ctx, "upgrade", gateway.OrderRequest{
		Amount:   price * 100,
		Currency: Currency,
		Receipt:  gateway.Receipt(req.UserID, target.ID, gateway.KindUpgrade, s.now()),
		Notes: map[string]string{
			"type":         "upgrade",
			"from_pass":    current.Type,
			"to_pass":      target.Type,
			"from_pass_id": strconv.FormatInt(current.ID, 10),
			"to_pass_id":   strconv.FormatInt(target.ID, 10),
		},
	})
	if err != nil {
		return Result{}, err
	}
	pending, err := s.recordPending(ctx, userID, target.ID, order)
	if err != nil {
		return Result{}, err
	}
	return Result{
		GatewayOrder: order,
		Order:        pending,
		Pass:         target.Summary(),
		AmountMajor:  price,
		Upgrade: &UpgradeDetails{
			FromPass:     current.Summary(),
			ToPass:       target.Summary(),
			UpgradePrice: price,
		},
	}, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (uuid.UUID, store.Pass, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return uuid.Nil, store.Pass{}, common.Unauthorized(CodeInvalidIdentity, "Invalid user identity", err)
	}
	pass, err := s.Store.GetPass(ctx, req.PassID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, store.Pass{}, common.NotFound(CodePassNotFound, "Pass not found")
		}
		s.Logger.Error().Err(err).Int64("pass_id", req.PassID).Msg("load pass")
		return uuid.Nil, store.Pass{}, common.Internal(err)
	}
	if pass.Stock <= 0 {
		return uuid.Nil, store.Pass{}, common.Conflict(CodeOutOfStock, "Pass is sold out")
	}
	return userID, pass, nil
}

// checkAmount rejects a client figure that differs from the server price, then
// runs the advisory stock check when the client pinned a row version.
func (s *Service) checkAmount(ctx context.Context, req Request, required int64) error {
	if req.ExpectedAmount != required {
		return common.Conflict(CodeAmountMismatch, fmt.Sprintf("Expected amount (%d) does not match price (%d)", req.ExpectedAmount, required))
	}
	if req.Version == nil {
		return nil
	}
	err := s.Store.CheckStock(ctx, req.PassID, *req.Version)
	switch {
	case err == nil, errors.Is(err, store.ErrProcedureUnavailable):
		return nil
	case errors.Is(err, store.ErrStaleVersion):
		return common.Conflict(CodeStaleVersion, "Pass availability changed, refresh and retry")
	default:
		s.Logger.Error().Err(err).Int64("pass_id", req.PassID).Msg("check stock")
		return common.Internal(err)
	}
}

func (s *Service) createOrder(ctx context.Context, kind string, in gateway.OrderRequest) (gateway.Order, error) {
	order, err := s.Gateway.CreateOrder(ctx, in)
	if err == nil {
		obs.CountPaymentOrder(kind, "created")
		return order, nil
	}
	obs.CountPaymentOrder(kind, "failed")
	s.Logger.Error().Err(err).Str("receipt", in.Receipt).Int64("amount", in.Amount).Msg("gateway order creation failed")

	var reqErr *gateway.RequestError
	switch {
	case errors.Is(err, gateway.ErrGatewayAuth), errors.Is(err, gateway.ErrNotConfigured):
		return gateway.Order{}, common.NewAppError(CodeGatewayConfig, "Payment gateway is misconfigured", http.StatusInternalServerError, err)
	case errors.As(err, &reqErr):
		message := reqErr.Description
		if message == "" {
			message = "Payment gateway rejected the order"
		}
		return gateway.Order{}, common.GatewayError(CodeGateway, message, reqErr.Status, err)
	default:
		return gateway.Order{}, common.GatewayError(CodeGateway, "Payment gateway unavailable", http.StatusBadGateway, err)
	}
}

func (s *Service) recordPending(ctx context.Context, userID uuid.UUID, passID int64, order gateway.Order) (store.Order, error) {
	pending, err := s.Store.CreatePendingOrder(ctx, store.NewOrder{UserID: userID, PassID: passID, ExternalPaymentRef: order.ID})
	if err != nil {
		s.Logger.Error().Err(err).Str("external_ref", order.ID).Int64("pass_id", passID).Msg("record pending order")
		return store.Order{}, common.Internal(err)
	}
	return pending, nil
}
