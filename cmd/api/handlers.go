package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khalidw/consultly/internal/auth"
	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/service"
	"github.com/khalidw/consultly/internal/store"
)

type apiHandler struct {
	db   *sql.DB
	cart *service.CartService
}

// principalFrom reads the caller identity the gateway in front injects.
// Identity resolution itself is not this service's job.
func principalFrom(r *http.Request) (auth.Principal, error) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return auth.Principal{}, errors.New("missing or invalid X-User-ID header")
	}

	role := auth.RoleCustomer
	if r.Header.Get("X-User-Role") == string(auth.RoleAdmin) {
		role = auth.RoleAdmin
	}

	return auth.Principal{UserID: id, Role: role}, nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (h *apiHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListProducts(r.Context(), h.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *apiHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *apiHandler) handleListConsultants(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListConsultants(r.Context(), h.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *apiHandler) handleGetConsultant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	consultant, err := store.GetConsultant(r.Context(), h.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, consultant)
}

func (h *apiHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	cart, err := h.cart.GetCart(r.Context(), principal.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *apiHandler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.cart.AddItem(r.Context(), principal.UserID, req.ProductID, req.Quantity)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *apiHandler) handleSetCartItem(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	itemID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart item ID")
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.cart.SetQuantity(r.Context(), principal.UserID, itemID, req.Quantity)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *apiHandler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	itemID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart item ID")
		return
	}

	if err := h.cart.RemoveItem(r.Context(), principal.UserID, itemID); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		ShippingAddress string `json:"shipping_address"`
		Phone           string `json:"phone"`
		Notes           string `json:"notes"`
		PaymentMethod   string `json:"payment_method"`
		Currency        string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.cart.Checkout(r.Context(), store.CheckoutRequest{
		UserID:          principal.UserID,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		Currency:        req.Currency,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *apiHandler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		ConsultantID    int64  `json:"consultant_id"`
		ServiceType     string `json:"service_type"`
		BookingDate     string `json:"booking_date"`
		BookingTime     string `json:"booking_time"`
		DurationMinutes int    `json:"duration_minutes"`
		Notes           string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	date, err := time.Parse("2006-01-02", req.BookingDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid booking_date, expected YYYY-MM-DD")
		return
	}

	booking, err := store.CreateBooking(r.Context(), h.db, store.CreateBookingRequest{
		ClientID:        principal.UserID,
		ConsultantID:    req.ConsultantID,
		ServiceType:     models.ServiceType(req.ServiceType),
		BookingDate:     date,
		BookingTime:     req.BookingTime,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, booking)
}

func (h *apiHandler) handleListBookings(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	page, pageSize := pageParams(r)
	filter := store.BookingFilter{
		Status:   models.BookingStatus(r.URL.Query().Get("status")),
		Page:     page,
		PageSize: pageSize,
	}
	if v := r.URL.Query().Get("consultant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid consultant_id")
			return
		}
		filter.ConsultantID = &id
	}

	result, err := store.ListBookings(r.Context(), h.db, principal, filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *apiHandler) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	booking, err := store.GetBooking(r.Context(), h.db, principal, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, booking)
}

func (h *apiHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrders(r.Context(), h.db, principal, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *apiHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, principal, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *apiHandler) handleTransitionOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		Status            string  `json:"status"`
		AdminNotes        *string `json:"admin_notes"`
		TrackingNumber    *string `json:"tracking_number"`
		EstimatedDelivery *string `json:"estimated_delivery_date"`
		PaymentStatus     *string `json:"payment_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transition := store.TransitionOrderRequest{
		NewStatus:      models.OrderStatus(req.Status),
		AdminNotes:     req.AdminNotes,
		TrackingNumber: req.TrackingNumber,
		PaymentStatus:  req.PaymentStatus,
	}
	if req.EstimatedDelivery != nil {
		eta, err := time.Parse("2006-01-02", *req.EstimatedDelivery)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid estimated_delivery_date, expected YYYY-MM-DD")
			return
		}
		transition.EstimatedDelivery = &eta
	}

	order, err := store.TransitionOrder(r.Context(), h.db, principal, id, transition)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *apiHandler) handleTransitionBooking(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	booking, err := store.TransitionBooking(r.Context(), h.db, principal, id, models.BookingStatus(req.Status))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, booking)
}

// respondStoreError translates the store's error taxonomy into HTTP codes.
// Customers get the message; the raw kind is what admins diagnose with.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrValidation),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrConsultantNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrBookingNotFound),
		errors.Is(err, database.ErrCartItemNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrSlotTaken),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrInsufficientStock):
		respondError(w, http.StatusConflict, err.Error())
	case database.IsRetryable(err):
		respondError(w, http.StatusServiceUnavailable, "temporary storage failure, please retry")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
