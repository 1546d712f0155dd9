package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stockledger/internal/auth"
	"stockledger/internal/db"
	"stockledger/internal/ledger"
	"stockledger/internal/quotes"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Ledger      *ledger.Service
	AuthService *auth.AuthService
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, ledgerService *ledger.Service, authService *auth.AuthService) *Handler {
	return &Handler{DB: database, Ledger: ledgerService, AuthService: authService}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLedgerError maps the ledger error taxonomy onto HTTP statuses.
// Expected trade failures are 4xx; anything else is a storage fault.
func writeLedgerError(w http.ResponseWriter, err error) {
	var validationErr *ledger.ValidationError
	var quoteErr *ledger.QuoteError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Reason)
	case errors.As(err, &quoteErr):
		// an unknown symbol is the caller's problem, a provider outage is not
		if errors.Is(err, quotes.ErrSymbolNotFound) {
			writeError(w, http.StatusNotFound, quoteErr.Error())
		} else {
			writeError(w, http.StatusBadGateway, quoteErr.Error())
		}
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrNoHolding):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseShares turns the submitted share count into a positive integer
func parseShares(raw string) (int, error) {
	if raw == "" {
		return 0, &ledger.ValidationError{Reason: "shares must not be empty"}
	}
	shares, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ledger.ValidationError{Reason: "shares must be a whole number"}
	}
	if shares <= 0 {
		return 0, &ledger.ValidationError{Reason: "shares must be a positive number"}
	}
	return shares, nil
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if req.Password != req.Confirmation {
		writeError(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"cash":     user.Cash,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUserID(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value("user_id").(int)
	return userID, ok
}

// GetQuote resolves the current price for a symbol
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Ledger.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// Buy purchases shares at the current quoted price
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
		Shares string `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	shares, err := parseShares(req.Shares)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	result, err := h.Ledger.Buy(r.Context(), userID, req.Symbol, shares)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Sell sells held shares at the current quoted price
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
		Shares string `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	shares, err := parseShares(req.Shares)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	result, err := h.Ledger.Sell(r.Context(), userID, req.Symbol, shares)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetHistory retrieves the user's chronological transaction history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	history, err := h.Ledger.History(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// GetPortfolio prices the user's holdings at current quotes
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	portfolio, err := h.Ledger.PortfolioValue(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, portfolio)
}
