package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent is a verified "checkout completed" notification from the payment gateway.
// The ids travel in the session metadata set at checkout creation.
type PaymentEvent struct {
	ExternalSessionID string
	SessionID         string
	ProductID         string
	SellerID          string
	Title             string
	BuyerEmail        string
	Channel           string
	AmountTotal       decimal.Decimal
}

type CheckoutRequest struct {
	SessionID  string
	ProductID  string
	SellerID   string
	Title      string
	BuyerEmail string
	Channel    string
	Price      decimal.Decimal
	Currency   string
}

type CheckoutLink struct {
	ExternalSessionID string
	URL               string
}

type PayoutRequest struct {
	SenderBatchID string
	UserID        string
	Receiver      string
	Amount        decimal.Decimal
	Currency      string
}

type PayoutReceipt struct {
	BatchID string
	Status  string
}

// ContentLink is a short-lived signed download location.
type ContentLink struct {
	URL       string
	ExpiresAt time.Time
}
