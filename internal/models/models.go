package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeFormat is the wire format for transaction timestamps: second
// precision, server clock.
const TimeFormat = "2006-01-02 15:04:05"

// Timestamp renders as "YYYY-MM-DD HH:MM:SS" in JSON.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(TimeFormat) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' {
		b = b[1 : len(b)-1]
	}
	parsed, err := time.Parse(TimeFormat, string(b))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) Time() time.Time { return time.Time(t) }

// TransactionType discriminates ledger entries
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Cash         decimal.Decimal // Virtual balance in USD
	CreatedAt    time.Time
}

// Holding is a user's current share count for one stock symbol.
// A holding row exists only while shares >= 1.
type Holding struct {
	UserID int    `json:"-"`
	Symbol string `json:"symbol"`
	Shares int    `json:"shares"`
}

// Transaction is one immutable ledger entry, either a purchase or a sell
type Transaction struct {
	ID         int             `json:"id"`
	UserID     int             `json:"-"`
	Symbol     string          `json:"symbol"`
	Shares     int             `json:"shares"`
	BatchPrice decimal.Decimal `json:"batch_price"` // Price paid or received for the whole lot
	Type       TransactionType `json:"type"`
	Datetime   Timestamp       `json:"datetime"`
}

// Quote is the current price for a symbol from the external price source
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Position is one holding priced at the current quote
type Position struct {
	Symbol string          `json:"symbol"`
	Shares int             `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"` // Shares * Price
}

// Portfolio is the full valuation of a user's ledger
type Portfolio struct {
	Positions  []Position      `json:"positions"`
	Cash       decimal.Decimal `json:"cash"`
	StockValue decimal.Decimal `json:"stock_value"`
	Total      decimal.Decimal `json:"total"` // Cash + StockValue
}
