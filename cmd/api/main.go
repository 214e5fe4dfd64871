package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shoplight/pos-backend/internal/auth"
	"github.com/shoplight/pos-backend/internal/config"
	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/payments"
	"github.com/shoplight/pos-backend/internal/square"
	"github.com/shoplight/pos-backend/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	client := square.NewClient(cfg.Square.BaseURL(), cfg.Square.APIVersion)
	var devices square.DeviceSource
	if cfg.Square.Production() {
		devices = &square.TerminalDevices{Client: client}
	} else {
		devices = square.SandboxDevices{}
	}

	svc := payments.NewService(
		store.NewSQL(db),
		client,
		devices,
		cfg.Square,
		cfg.Server.SiteURL,
		cfg.Server.BaseURL,
		payments.NewStateSigner(cfg.Auth.JWTSecret, 10*time.Minute),
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/token", handleAuthToken(cfg))
	mux.HandleFunc("/api/items", handleItems(cfg, db))
	mux.HandleFunc("/api/items/", handleItemByID(cfg, db))
	mux.HandleFunc("/api/orders", handleOrders(cfg, db, svc))
	mux.HandleFunc("/api/orders/", handleOrderByID(cfg, db))
	mux.HandleFunc("/api/checkouts", handleCheckouts(cfg, db, svc))
	mux.HandleFunc("/api/checkouts/", handleCheckoutByID(cfg, svc))
	mux.HandleFunc("/api/devices", handleDevices(cfg, svc))
	mux.HandleFunc("/api/square/connect", handleSquareConnect(cfg, svc))
	mux.HandleFunc("/api/square/status", handleSquareStatus(cfg, svc))
	mux.HandleFunc("/api/square/disconnect", handleSquareDisconnect(cfg, svc))
	mux.HandleFunc("/api/square/callback", svc.CallbackHandler())
	mux.HandleFunc("/api/square/webhook", svc.WebhookHandler())

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// handleAuthToken mints a session token for development. Disabled in
// production where sessions come from the real identity provider.
func handleAuthToken(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if cfg.Square.Production() {
			respondError(w, http.StatusNotFound, "Not found")
			return
		}

		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		token, err := auth.IssueToken(cfg.Auth.JWTSecret, req.UserID, cfg.Auth.TokenTTL)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func handleItems(cfg *config.Config, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Title    string  `json:"title"`
				Price    float64 `json:"price"`
				Quantity int     `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			price := decimal.NewFromFloat(req.Price)
			item, err := store.CreateItem(ctx, db, userID, req.Title, price, req.Quantity)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, item)

		case http.MethodGet:
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 1 {
				page = 1
			}
			pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
			if pageSize < 1 || pageSize > 100 {
				pageSize = 20
			}

			result, err := store.ListItems(ctx, db, userID, page, pageSize)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleItemByID(cfg *config.Config, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		idStr := r.URL.Path[len("/api/items/"):]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			// Fall back to SKU lookup for non-numeric ids.
			item, err := store.GetItemBySKU(ctx, db, userID, idStr)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, item)
			return
		}

		item, err := store.GetItem(ctx, db, userID, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, item)
	}
}

type orderLinesRequest struct {
	Lines []struct {
		ItemID   int64 `json:"item_id"`
		Quantity int   `json:"quantity"`
	} `json:"lines"`
	DeviceID string `json:"device_id"`
}

func (r orderLinesRequest) requests() []store.OrderLineRequest {
	var lines []store.OrderLineRequest
	for _, line := range r.Lines {
		lines = append(lines, store.OrderLineRequest{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
		})
	}
	return lines
}

// handleOrders creates an order and starts a terminal checkout for it in one
// call, or lists orders with cursor pagination.
func handleOrders(cfg *config.Config, db *sql.DB, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req orderLinesRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			order, checkoutID, err := svc.CreateOrderWithCheckout(ctx, userID, req.requests(), req.DeviceID)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, map[string]interface{}{
				"order":       order,
				"checkout_id": checkoutID,
			})

		case http.MethodGet:
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			result, err := store.ListOrdersCursor(ctx, db, userID, r.URL.Query().Get("cursor"), limit)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleOrderByID(cfg *config.Config, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		idStr := r.URL.Path[len("/api/orders/"):]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		order, err := store.GetOrder(ctx, db, userID, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, order)
	}
}

// handleCheckouts starts a checkout without an order record, or lists
// checkout attempts.
func handleCheckouts(cfg *config.Config, db *sql.DB, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req orderLinesRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			checkoutID, err := svc.ProcessPayment(ctx, userID, req.requests(), req.DeviceID)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, map[string]string{"checkout_id": checkoutID})

		case http.MethodGet:
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			result, err := store.ListCheckoutsCursor(ctx, db, userID, r.URL.Query().Get("cursor"), limit)
			if err != nil {
				respondStoreError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleCheckoutByID serves the poll path (GET) and the explicit
// vendor-status refresh (POST .../refresh).
func handleCheckoutByID(cfg *config.Config, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}

		checkoutID := r.URL.Path[len("/api/checkouts/"):]
		refresh := strings.HasSuffix(checkoutID, "/refresh")
		if refresh {
			checkoutID = strings.TrimSuffix(checkoutID, "/refresh")
		}
		if checkoutID == "" {
			respondError(w, http.StatusBadRequest, "Invalid checkout ID")
			return
		}

		switch {
		case refresh && r.Method == http.MethodPost:
			record, err := svc.RefreshCheckoutStatus(ctx, userID, checkoutID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, record)

		case !refresh && r.Method == http.MethodGet:
			record, err := svc.CheckoutStatus(ctx, userID, checkoutID)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			if record == nil {
				respondError(w, http.StatusNotFound, "Checkout not found")
				return
			}
			respondJSON(w, http.StatusOK, record)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleDevices(cfg *config.Config, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		devices, err := svc.Devices(r.Context(), userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
	}
}

func handleSquareConnect(cfg *config.Config, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		authURL, err := svc.AuthURL(userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
	}
}

func handleSquareStatus(cfg *config.Config, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		status, err := svc.Status(r.Context(), userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if status == nil {
			respondJSON(w, http.StatusOK, map[string]bool{"connected": false})
			return
		}
		respondJSON(w, http.StatusOK, status)
	}
}

func handleSquareDisconnect(cfg *config.Config, svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(cfg, w, r)
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := svc.Disconnect(r.Context(), userID); err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func requireUser(cfg *config.Config, w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := auth.UserFromRequest(cfg.Auth.JWTSecret, r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return userID, true
}

// respondStoreError maps the error taxonomy onto HTTP status codes.
func respondStoreError(w http.ResponseWriter, err error) {
	var apiErr *square.APIError
	switch {
	case errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, database.ErrInvalidTotal),
		errors.Is(err, database.ErrDeviceRequired):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrItemNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrCheckoutNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotConnected):
		respondError(w, http.StatusConflict, "square account not connected")
	case errors.As(err, &apiErr):
		respondError(w, http.StatusBadGateway, apiErr.Error())
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
