package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-order-ledger/internal/idempotency"
	"github.com/safar/go-order-ledger/internal/models"
	"github.com/safar/go-order-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, customerID string, items []models.Item, shippingAddress string) (models.Order, error)
	ValidateOrder(ctx context.Context, orderID string) (service.ValidationResult, error)
	ProcessOrder(ctx context.Context, orderID string) (models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.Status) (models.Order, error)
	CancelOrder(ctx context.Context, orderID string) (models.Order, error)
	ConfirmReservation(ctx context.Context, orderID string) error
	FindOrder(ctx context.Context, orderID string) (models.Order, error)
	FindOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
}

type ProductStore interface {
	FindByID(ctx context.Context, id string) (models.Product, error)
	FindAll(ctx context.Context) ([]models.Product, error)
}

type CustomerStore interface {
	Save(ctx context.Context, c models.Customer) (models.Customer, error)
	FindByID(ctx context.Context, id string) (models.Customer, error)
	FindAll(ctx context.Context) ([]models.Customer, error)
}

// StockLedger owns every stock write, including catalog saves.
type StockLedger interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error)
	SaveProduct(ctx context.Context, p models.Product) (models.Product, error)
}

type Handler struct {
	orders    OrderService
	products  ProductStore
	customers CustomerStore
	stock     StockLedger
	idem      idempotency.Store
	log       *zap.Logger
}

// NewHandler wires the API. idem may be nil, in which case Idempotency-Key
// headers are ignored.
func NewHandler(orders OrderService, products ProductStore, customers CustomerStore, stock StockLedger, idem idempotency.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		orders:    orders,
		products:  products,
		customers: customers,
		stock:     stock,
		idem:      idem,
		log:       log,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Post("/", h.saveCustomer)
		r.Get("/", h.listCustomers)
		r.Get("/{id}", h.getCustomer)
		r.Get("/{id}/orders", h.customerOrders)
	})
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.saveProduct)
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Get("/{id}/availability", h.productAvailability)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/validate", h.validateOrder)
		r.Post("/{id}/process", h.processOrder)
		r.Put("/{id}/status", h.updateStatus)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/confirm", h.confirmOrder)
	})
}

type customerReq struct {
	ID          string          `json:"id"`
	Tier        models.Tier     `json:"tier"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	UsedCredit  decimal.Decimal `json:"used_credit"`
}

func (h *Handler) saveCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ID == "" {
		badRequest(w, "missing id")
		return
	}
	if req.Tier == "" {
		req.Tier = models.TierRegular
	}
	if !req.Tier.Valid() {
		badRequest(w, "unknown tier "+string(req.Tier))
		return
	}
	if req.CreditLimit.IsNegative() || req.UsedCredit.IsNegative() {
		badRequest(w, "credit amounts must not be negative")
		return
	}

	c, err := h.customers.Save(r.Context(), models.Customer{
		ID:          req.ID,
		Tier:        req.Tier,
		CreditLimit: req.CreditLimit,
		UsedCredit:  req.UsedCredit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	cs, err := h.customers.FindAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.customers.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.FindOrdersByCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type productReq struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Active        *bool           `json:"active"`
}

func (h *Handler) saveProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ID == "" || req.Name == "" {
		badRequest(w, "missing fields")
		return
	}
	if req.Price.IsNegative() || req.StockQuantity < 0 {
		badRequest(w, "price and stock_quantity must not be negative")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	p, err := h.stock.SaveProduct(r.Context(), models.Product{
		ID:            req.ID,
		Name:          req.Name,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Active:        active,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.products.FindAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type availabilityResp struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
}

func (h *Handler) productAvailability(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty < 0 {
		badRequest(w, "quantity must be a non-negative integer")
		return
	}
	productID := chi.URLParam(r, "id")

	ok, err := h.stock.CheckAvailability(r.Context(), productID, qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResp{ProductID: productID, Quantity: qty, Available: ok})
}

type orderItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	CustomerID      string         `json:"customer_id"`
	Items           []orderItemReq `json:"items"`
	ShippingAddress string         `json:"shipping_address"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.CustomerID == "" || len(req.Items) == 0 {
		badRequest(w, "missing fields")
		return
	}
	items := make([]models.Item, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" {
			badRequest(w, "item without product_id")
			return
		}
		items = append(items, models.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		order, err := h.orders.CreateOrder(ctx, req.CustomerID, items, req.ShippingAddress)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
		return
	}

	idemKey := idempotency.OrderCreateKey(key)
	existing, err := h.idem.Claim(ctx, idemKey)
	if errors.Is(err, idempotency.ErrInFlight) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if existing != "" {
		order, err := h.orders.FindOrder(ctx, existing)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, order)
		return
	}

	order, err := h.orders.CreateOrder(ctx, req.CustomerID, items, req.ShippingAddress)
	if err != nil {
		if relErr := h.idem.Release(ctx, idemKey); relErr != nil {
			h.log.Warn("release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
		}
		h.writeError(w, r, err)
		return
	}
	if err := h.idem.Complete(ctx, idemKey, order.ID); err != nil {
		h.log.Warn("complete idempotency key", zap.String("key", idemKey), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.FindOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) validateOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.orders.ValidateOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) processOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ProcessOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.ConfirmReservation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
