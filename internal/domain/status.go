package domain

type OrderStatus string

const (
	OrderCompleted OrderStatus = "completed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// CanTransition reports whether an order may move from s to next.
// completed is the only state with outgoing edges.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s != OrderCompleted {
		return false
	}
	switch next {
	case OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// CountsAsRevenue is false only for cancelled orders.
func (s OrderStatus) CountsAsRevenue() bool {
	return s != OrderCancelled
}

// Fulfilled covers both terminal delivery states.
func (s OrderStatus) Fulfilled() bool {
	return s == OrderShipped || s == OrderDelivered
}

type TransactionType string

const (
	TransactionSale   TransactionType = "sale"
	TransactionPayout TransactionType = "payout"
)

// PayoutReserved marks a payout record written before the network call.
const PayoutReserved = "reserved"

type NotificationKind string

const (
	NotifyBuyerAccess       NotificationKind = "buyer_access"
	NotifySellerSale        NotificationKind = "seller_sale"
	NotifyExpirationWarning NotificationKind = "expiration_warning"
	NotifyBelowMinimum      NotificationKind = "payout_below_minimum"
	NotifyPayoutSent        NotificationKind = "payout_sent"
)
