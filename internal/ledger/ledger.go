package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"stockledger/internal/db"
	"stockledger/internal/models"
	"stockledger/internal/quotes"

	"github.com/shopspring/decimal"
)

// TradeTx is the set of row operations one trade performs inside a
// single storage transaction.
type TradeTx interface {
	UserForUpdate(ctx context.Context, userID int) (*models.User, error)
	HoldingForUpdate(ctx context.Context, userID int, symbol string) (*models.Holding, error)
	UpdateCash(ctx context.Context, userID int, cash decimal.Decimal) error
	InsertPurchase(ctx context.Context, userID int, symbol string, shares int, batchPrice decimal.Decimal, at time.Time) (*models.Transaction, error)
	InsertSell(ctx context.Context, userID int, symbol string, shares int, batchPrice decimal.Decimal, at time.Time) (*models.Transaction, error)
	UpsertHolding(ctx context.Context, userID int, symbol string, shares int) (int, error)
	SetHoldingShares(ctx context.Context, userID int, symbol string, shares int) error
	DeleteHolding(ctx context.Context, userID int, symbol string) error
}

// Store is what the ledger needs from the storage layer
type Store interface {
	GetUserByID(ctx context.Context, userID int) (*models.User, error)
	GetHolding(ctx context.Context, userID int, symbol string) (*models.Holding, error)
	GetHoldings(ctx context.Context, userID int) ([]models.Holding, error)
	GetPurchases(ctx context.Context, userID int) ([]models.Transaction, error)
	GetSells(ctx context.Context, userID int) ([]models.Transaction, error)
	ExecTrade(ctx context.Context, fn func(TradeTx) error) error
}

// pgStore adapts *db.DB to Store
type pgStore struct {
	*db.DB
}

func (s pgStore) ExecTrade(ctx context.Context, fn func(TradeTx) error) error {
	return s.DB.ExecTrade(ctx, func(t *db.Trade) error {
		return fn(t)
	})
}

// TradeResult reports a committed buy or sell
type TradeResult struct {
	Balance decimal.Decimal     `json:"balance"` // Cash after the trade
	Shares  int                 `json:"shares"`  // Holding for the symbol after the trade
	Record  *models.Transaction `json:"record"`
}

// Service holds the portfolio ledger business logic: it validates
// trades against the current balance and holdings, and computes the
// balance, holding and log mutations each trade commits atomically.
type Service struct {
	store  Store
	quotes quotes.Provider
	now    func() time.Time
}

// NewService creates a ledger service backed by Postgres
func NewService(database *db.DB, provider quotes.Provider) *Service {
	return NewServiceWithStore(pgStore{database}, provider)
}

// NewServiceWithStore creates a ledger service on any Store
func NewServiceWithStore(store Store, provider quotes.Provider) *Service {
	return &Service{store: store, quotes: provider, now: time.Now}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateTrade(symbol string, shares int) error {
	if symbol == "" {
		return &ValidationError{Reason: "symbol must not be empty"}
	}
	if shares <= 0 {
		return &ValidationError{Reason: "shares must be a positive number"}
	}
	return nil
}

func batchPrice(price decimal.Decimal, shares int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(shares))).Round(2)
}

// Buy purchases shares of symbol at the current quoted price. The funds
// check and every write run in one storage transaction against a locked
// user row, so concurrent trades by the same user serialize and cannot
// both pass against a stale balance.
func (s *Service) Buy(ctx context.Context, userID int, symbol string, shares int) (*TradeResult, error) {
	symbol = normalizeSymbol(symbol)
	if err := validateTrade(symbol, shares); err != nil {
		return nil, err
	}

	quote, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return nil, &QuoteError{Symbol: symbol, Err: err}
	}
	batch := batchPrice(quote.Price, shares)

	var result TradeResult
	err = s.store.ExecTrade(ctx, func(t TradeTx) error {
		user, err := t.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if batch.GreaterThan(user.Cash) {
			return ErrInsufficientFunds
		}

		balance := user.Cash.Sub(batch)
		if err := t.UpdateCash(ctx, userID, balance); err != nil {
			return err
		}
		record, err := t.InsertPurchase(ctx, userID, symbol, shares, batch, s.now())
		if err != nil {
			return err
		}
		held, err := t.UpsertHolding(ctx, userID, symbol, shares)
		if err != nil {
			return err
		}

		result = TradeResult{Balance: balance, Shares: held, Record: record}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Sell sells shares of symbol at the current quoted price. The holding
// is checked before the quote is fetched, then re-checked under the row
// lock before any write.
func (s *Service) Sell(ctx context.Context, userID int, symbol string, shares int) (*TradeResult, error) {
	symbol = normalizeSymbol(symbol)
	if err := validateTrade(symbol, shares); err != nil {
		return nil, err
	}

	held, err := s.store.GetHolding(ctx, userID, symbol)
	if err != nil {
		if errors.Is(err, db.ErrNoHolding) {
			return nil, ErrNoHolding
		}
		return nil, err
	}
	if shares > held.Shares {
		return nil, ErrInsufficientShares
	}

	quote, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return nil, &QuoteError{Symbol: symbol, Err: err}
	}
	batch := batchPrice(quote.Price, shares)

	var result TradeResult
	err = s.store.ExecTrade(ctx, func(t TradeTx) error {
		user, err := t.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		holding, err := t.HoldingForUpdate(ctx, userID, symbol)
		if err != nil {
			if errors.Is(err, db.ErrNoHolding) {
				return ErrNoHolding
			}
			return err
		}
		// The pre-check can go stale before the lock is taken
		if shares > holding.Shares {
			return ErrInsufficientShares
		}

		balance := user.Cash.Add(batch)
		if err := t.UpdateCash(ctx, userID, balance); err != nil {
			return err
		}
		record, err := t.InsertSell(ctx, userID, symbol, shares, batch, s.now())
		if err != nil {
			return err
		}

		remaining := holding.Shares - shares
		if remaining == 0 {
			err = t.DeleteHolding(ctx, userID, symbol)
		} else {
			err = t.SetHoldingShares(ctx, userID, symbol, remaining)
		}
		if err != nil {
			return err
		}

		result = TradeResult{Balance: balance, Shares: remaining, Record: record}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// History merges the purchase and sell logs into one sequence sorted
// ascending by timestamp, ties broken by insertion order. Recomputed on
// every call, never cached.
func (s *Service) History(ctx context.Context, userID int) ([]models.Transaction, error) {
	purchases, err := s.store.GetPurchases(ctx, userID)
	if err != nil {
		return nil, err
	}
	sells, err := s.store.GetSells(ctx, userID)
	if err != nil {
		return nil, err
	}

	history := make([]models.Transaction, 0, len(purchases)+len(sells))
	history = append(history, purchases...)
	history = append(history, sells...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Datetime.Time().Before(history[j].Datetime.Time())
	})
	return history, nil
}

// Quote validates a symbol and resolves its current price
func (s *Service) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, &ValidationError{Reason: "symbol must not be empty"}
	}
	quote, err := s.quotes.Lookup(ctx, symbol)
	if err != nil {
		return nil, &QuoteError{Symbol: symbol, Err: err}
	}
	return quote, nil
}

// PortfolioValue prices every holding at its current quote. A failed
// quote for any symbol fails the whole valuation, naming that symbol.
func (s *Service) PortfolioValue(ctx context.Context, userID int) (*models.Portfolio, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.GetHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(holdings))
	stockValue := decimal.Zero
	for _, h := range holdings {
		quote, err := s.quotes.Lookup(ctx, h.Symbol)
		if err != nil {
			return nil, &QuoteError{Symbol: h.Symbol, Err: err}
		}
		value := batchPrice(quote.Price, h.Shares)
		positions = append(positions, models.Position{
			Symbol: h.Symbol,
			Shares: h.Shares,
			Price:  quote.Price,
			Value:  value,
		})
		stockValue = stockValue.Add(value)
	}

	return &models.Portfolio{
		Positions:  positions,
		Cash:       user.Cash,
		StockValue: stockValue,
		Total:      user.Cash.Add(stockValue),
	}, nil
}
