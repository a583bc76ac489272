package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/common"
	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/pricing"
	"github.com/quotelab/pricing-api/internal/rates"
	"github.com/quotelab/pricing-api/internal/recurrence"
	"github.com/quotelab/pricing-api/internal/tax"
)

// Handler wires the calculation pipeline to HTTP.
type Handler struct {
	Svc               *Service
	Rates             *rates.Service
	Validate          *validator.Validate
	Logger            zerolog.Logger
	HomeCurrency      string
	DefaultTaxRateBps int64
	RegularHours      float64
}

// Routes mounts the pricing endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/pricing/calculate", h.Calculate)
	r.Post("/v1/pricing/preview-discount", h.PreviewDiscount)
	r.Post("/v1/pricing/projection", h.Projection)
	r.Get("/v1/pricing/result/{cartID}", h.Result)
	r.Get("/v1/rates", h.CurrentRates)
}

type tierRequest struct {
	MinQuantity float64 `json:"min_quantity"`
	MaxQuantity float64 `json:"max_quantity"`
	Rate        int64   `json:"rate"`
}

type usageRequest struct {
	BaseRate      int64   `json:"base_rate"`
	UsageRate     int64   `json:"usage_rate"`
	Usage         float64 `json:"usage"`
	MinimumCharge int64   `json:"minimum_charge"`
}

type timeRequest struct {
	RegularThreshold float64 `json:"regular_threshold"`
	OvertimeRate     int64   `json:"overtime_rate"`
	RushMultiplier   float64 `json:"rush_multiplier"`
}

type valueRequest struct {
	BaseValue         int64   `json:"base_value"`
	SuccessMultiplier float64 `json:"success_multiplier"`
	RiskAdjustment    int64   `json:"risk_adjustment"`
}

type lineItemRequest struct {
	ID              string        `json:"id" validate:"omitempty,uuid"`
	Description     string        `json:"description"`
	ProductID       string        `json:"product_id" validate:"omitempty,uuid"`
	CategoryID      string        `json:"category_id" validate:"omitempty,uuid"`
	Quantity        float64       `json:"quantity"`
	UnitPrice       int64         `json:"unit_price"`
	CostPrice       int64         `json:"cost_price"`
	PricingModel    string        `json:"pricing_model"`
	Tiers           []tierRequest `json:"tiers" validate:"max=50"`
	Usage           *usageRequest `json:"usage"`
	Time            *timeRequest  `json:"time"`
	Value           *valueRequest `json:"value"`
	DiscountPercent float64       `json:"discount_percent"`
	DiscountAmount  int64         `json:"discount_amount"`
	Taxable         *bool         `json:"taxable"`
	TaxRatePercent  *float64      `json:"tax_rate_percent"`
	TaxMode         string        `json:"tax_mode" validate:"omitempty,oneof=inclusive exclusive"`
	BillingCycle    string        `json:"billing_cycle"`
}

type clientRequest struct {
	Tier      string `json:"tier"`
	FirstTime bool   `json:"first_time"`
}

type taxRequest struct {
	Mode                    string  `json:"mode"`
	Jurisdiction            string  `json:"jurisdiction"`
	JurisdictionRatePercent float64 `json:"jurisdiction_rate_percent"`
}

type calculateRequest struct {
	CartID   string            `json:"cart_id" validate:"omitempty,uuid"`
	Currency string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Locale   string            `json:"locale"`
	Items    []lineItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	Client   clientRequest     `json:"client"`
	Tax      taxRequest        `json:"tax"`
	// DisplayCurrency asks for totals converted through the rate table, for
	// display alongside the cart-currency figures.
	DisplayCurrency string `json:"display_currency" validate:"omitempty,len=3,alpha"`
	// Codes are manual promo codes entered by the operator.
	Codes []string `json:"codes" validate:"max=10"`
}

type projectionRequest struct {
	Amount        int64  `json:"amount"`
	BillingCycle  string `json:"billing_cycle" validate:"required"`
	Start         string `json:"start"`
	HorizonMonths int    `json:"horizon_months" validate:"omitempty,min=1,max=120"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	Locale        string `json:"locale"`
}

// Calculate prices a cart and publishes the result through its session.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCalculate(w, r)
	if !ok {
		return
	}
	cart, taxCtx := h.buildCart(req)
	result := h.Svc.Price(r.Context(), cart, req.Codes, taxCtx)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": h.present(r.Context(), result, cart.ID, req.Locale, req.DisplayCurrency),
	})
}

// PreviewDiscount prices the cart with the listed manual codes applied,
// without publishing. Unknown codes simply contribute nothing.
func (h *Handler) PreviewDiscount(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCalculate(w, r)
	if !ok {
		return
	}
	cart, taxCtx := h.buildCart(req)
	result := h.Svc.Preview(r.Context(), cart, req.Codes, taxCtx)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": h.present(r.Context(), result, cart.ID, req.Locale, req.DisplayCurrency),
	})
}

// Projection expands a recurring amount into a bounded payment schedule.
func (h *Handler) Projection(w http.ResponseWriter, r *http.Request) {
	var req projectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid payload", validationDetails(err))
		return
	}
	cycle := recurrence.ParseCycle(req.BillingCycle)
	start := time.Now().UTC()
	if strings.TrimSpace(req.Start) != "" {
		parsed, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "start must be RFC 3339", nil)
			return
		}
		start = parsed.UTC()
	}
	horizon := req.HorizonMonths
	if horizon <= 0 {
		horizon = 12
	}
	amount := money.SanitizeAmount(req.Amount)
	entries := recurrence.Project(amount, cycle, start, horizon)
	formatter := h.formatter(req.Currency, req.Locale)
	schedule := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		schedule = append(schedule, map[string]any{
			"date":               e.Date.Format("2006-01-02"),
			"amount":             e.Amount,
			"cumulative":         e.Cumulative,
			"amount_display":     formatter.Format(e.Amount),
			"cumulative_display": formatter.Format(e.Cumulative),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"billing_cycle":      cycle.String(),
			"horizon_months":     horizon,
			"monthly_equivalent": recurrence.MonthlyEquivalent(amount, cycle),
			"schedule":           schedule,
		},
	})
}

// Result returns the latest published snapshot for a cart, including
// refinements applied after the synchronous response went out.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart id must be a uuid", nil)
		return
	}
	result, ok := h.Svc.Snapshot(cartID)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no calculation published for cart", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": h.present(r.Context(), result, cartID, "", ""),
	})
}

// CurrentRates exposes the currency table the conversions run on.
func (h *Handler) CurrentRates(w http.ResponseWriter, r *http.Request) {
	table := h.Rates.Current(r.Context())
	common.JSON(w, http.StatusOK, map[string]any{"data": table})
}

func (h *Handler) decodeCalculate(w http.ResponseWriter, r *http.Request) (calculateRequest, bool) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json payload", nil)
		return req, false
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "invalid payload", validationDetails(err))
		return req, false
	}
	return req, true
}

func (h *Handler) buildCart(req calculateRequest) (pricing.Cart, tax.Context) {
	cartID := uuid.New()
	if id, err := uuid.Parse(req.CartID); err == nil {
		cartID = id
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(h.HomeCurrency))
	}
	cart := pricing.Cart{
		ID:       cartID,
		Currency: currency,
		Client: discount.ClientContext{
			Tier:      strings.TrimSpace(req.Client.Tier),
			FirstTime: req.Client.FirstTime,
		},
	}
	for _, item := range req.Items {
		built := buildItem(item)
		if built.Model == pricing.ModelTime && h.RegularHours > 0 {
			if built.Time == nil {
				built.Time = &pricing.TimeParams{}
			}
			if built.Time.RegularThreshold <= 0 {
				built.Time.RegularThreshold = h.RegularHours
			}
		}
		cart.Items = append(cart.Items, built)
	}
	taxCtx := tax.Context{
		Mode:                tax.ParseMode(req.Tax.Mode),
		Jurisdiction:        strings.TrimSpace(req.Tax.Jurisdiction),
		JurisdictionRateBps: money.BpsFromPercent(req.Tax.JurisdictionRatePercent),
		DefaultRateBps:      h.DefaultTaxRateBps,
	}
	return cart, taxCtx
}

func buildItem(req lineItemRequest) pricing.LineItem {
	item := pricing.LineItem{
		ID:           uuid.New(),
		Description:  strings.TrimSpace(req.Description),
		Quantity:     money.SanitizeQuantity(req.Quantity),
		UnitPrice:    money.SanitizeAmount(req.UnitPrice),
		CostPrice:    money.SanitizeAmount(req.CostPrice),
		Model:        pricing.ParseModel(req.PricingModel),
		Taxable:      true,
		BillingCycle: recurrence.ParseCycle(req.BillingCycle),
	}
	if id, err := uuid.Parse(req.ID); err == nil {
		item.ID = id
	}
	if id, err := uuid.Parse(req.ProductID); err == nil {
		item.ProductID = &id
	}
	if id, err := uuid.Parse(req.CategoryID); err == nil {
		item.CategoryID = &id
	}
	for _, tier := range req.Tiers {
		item.Tiers = append(item.Tiers, pricing.Tier{
			MinQuantity: money.SanitizeQuantity(tier.MinQuantity),
			MaxQuantity: money.SanitizeQuantity(tier.MaxQuantity),
			Rate:        money.SanitizeAmount(tier.Rate),
		})
	}
	if req.Usage != nil {
		item.Usage = &pricing.UsageParams{
			BaseRate:      money.SanitizeAmount(req.Usage.BaseRate),
			UsageRate:     money.SanitizeAmount(req.Usage.UsageRate),
			Usage:         money.SanitizeQuantity(req.Usage.Usage),
			MinimumCharge: money.SanitizeAmount(req.Usage.MinimumCharge),
		}
	}
	if req.Time != nil {
		item.Time = &pricing.TimeParams{
			RegularThreshold: money.SanitizeQuantity(req.Time.RegularThreshold),
			OvertimeRate:     money.SanitizeAmount(req.Time.OvertimeRate),
			RushMultiplier:   money.SanitizeQuantity(req.Time.RushMultiplier),
		}
	}
	if req.Value != nil {
		item.Value = &pricing.ValueParams{
			BaseValue:         money.SanitizeAmount(req.Value.BaseValue),
			SuccessMultiplier: money.SanitizeQuantity(req.Value.SuccessMultiplier),
			RiskAdjustment:    req.Value.RiskAdjustment,
		}
	}
	if req.DiscountPercent > 0 || req.DiscountAmount > 0 {
		item.Discount = &pricing.ItemDiscount{
			PercentBps: money.BpsFromPercent(req.DiscountPercent),
			Fixed:      money.SanitizeAmount(req.DiscountAmount),
		}
	}
	if req.Taxable != nil {
		item.Taxable = *req.Taxable
	}
	if req.TaxRatePercent != nil {
		bps := money.BpsFromPercent(*req.TaxRatePercent)
		item.TaxRateBps = &bps
		if strings.TrimSpace(req.TaxMode) != "" {
			mode := tax.ParseMode(req.TaxMode)
			item.TaxMode = &mode
		}
	}
	return item
}

func (h *Handler) present(ctx context.Context, result pricing.Result, cartID uuid.UUID, locale, displayCurrency string) map[string]any {
	formatter := h.formatter(result.Currency, locale)
	data := map[string]any{
		"cart_id":          cartID.String(),
		"result":           result,
		"total_display":    formatter.Format(result.Total),
		"subtotal_display": formatter.Format(result.Subtotal),
		"savings_display":  formatter.Format(result.Savings),
	}
	target := strings.ToUpper(strings.TrimSpace(displayCurrency))
	if target != "" && target != strings.ToUpper(strings.TrimSpace(result.Currency)) && h.Rates != nil {
		converted, rate := h.Rates.Convert(ctx, result.Total, target)
		df := money.NewFormatter(target, locale)
		data["display"] = map[string]any{
			"currency":      target,
			"rate":          rate,
			"total":         converted,
			"total_display": df.Format(converted),
		}
	}
	return data
}

func (h *Handler) formatter(currency, locale string) money.Formatter {
	code := strings.TrimSpace(currency)
	if code == "" {
		code = h.HomeCurrency
	}
	return money.NewFormatter(code, locale)
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, map[string]string{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return details
}
