package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is a process-local Store. Every method takes the same lock, which gives
// the single-document atomicity the Postgres adapter gets from row updates.
type Memory struct {
	mu sync.Mutex

	products       map[string]domain.Product
	sessions       map[string]domain.PaymentSession
	orders         map[string]domain.Order
	orderBySession map[string]string
	accessLogs     []domain.AccessLog
	accessAttempts []domain.AccessAttempt
	linkDetails    []domain.LinkDetail
	views          []domain.ProductView
	warnings       map[string]domain.WarningSent

	accounts      map[string]domain.UserAccount
	transactions  []domain.Transaction
	txKeys        map[string]bool
	payoutRecords []domain.PayoutRecord
	payoutErrors  []domain.PayoutError
	payoutRuns    []domain.PayoutSession

	stats         map[string]domain.UserStats
	notifications map[string]domain.NotificationIntent
	outboxOrder   []string
	systemErrors  []domain.SystemError
}

func NewMemory() *Memory {
	return &Memory{
		products:       make(map[string]domain.Product),
		sessions:       make(map[string]domain.PaymentSession),
		orders:         make(map[string]domain.Order),
		orderBySession: make(map[string]string),
		warnings:       make(map[string]domain.WarningSent),
		accounts:       make(map[string]domain.UserAccount),
		txKeys:         make(map[string]bool),
		stats:          make(map[string]domain.UserStats),
		notifications:  make(map[string]domain.NotificationIntent),
	}
}

func (m *Memory) GetProduct(_ context.Context, id string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *Memory) InsertProduct(_ context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) IncrementProductSales(_ context.Context, id string, gross decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SalesCount++
	p.Revenue = p.Revenue.Add(gross)
	m.products[id] = p
	return nil
}

func (m *Memory) ListProductsCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0)
	for _, p := range m.products {
		if p.CreatedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sortProducts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListProductsExpiringBetween(_ context.Context, from, to time.Time) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0)
	for _, p := range m.products {
		if !p.ExpiresAt.Before(from) && p.ExpiresAt.Before(to) {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out, nil
}

func sortProducts(ps []domain.Product) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func (m *Memory) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

func (m *Memory) RecordView(_ context.Context, v domain.ProductView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, v)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.PaymentSession{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Memory) InsertSession(_ context.Context, s domain.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) CompleteSession(_ context.Context, id, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Completed {
		return false, nil
	}
	s.Completed = true
	s.OrderID = orderID
	m.sessions[id] = s
	return true, nil
}

func (m *Memory) InsertOrder(_ context.Context, o domain.Order) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.orderBySession[o.SessionID]; ok {
		return m.orders[existingID], false, nil
	}
	m.orders[o.ID] = o
	m.orderBySession[o.SessionID] = o.ID
	return o, true, nil
}

func (m *Memory) GetOrderBySession(_ context.Context, sessionID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.orderBySession[sessionID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return m.orders[id], nil
}

func (m *Memory) GetOrderByToken(_ context.Context, token string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.AccessToken == token {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (m *Memory) BindFirstAccess(_ context.Context, orderID, fingerprint string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.DeviceFingerprint != "" {
		return false, nil
	}
	o.DeviceFingerprint = fingerprint
	o.FirstAccessAt = &at
	if o.Status.CanTransition(domain.OrderShipped) {
		o.Status = domain.OrderShipped
	}
	m.orders[orderID] = o
	return true, nil
}

func (m *Memory) InsertAccessLog(_ context.Context, l domain.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessLogs = append(m.accessLogs, l)
	return nil
}

func (m *Memory) InsertAccessAttempt(_ context.Context, a domain.AccessAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessAttempts = append(m.accessAttempts, a)
	return nil
}

func (m *Memory) InsertLinkDetail(_ context.Context, l domain.LinkDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkDetails = append(m.linkDetails, l)
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	return a, nil
}

// UpsertAccount never overwrites an existing balance; balances only move through
// ApplyTransaction.
func (m *Memory) UpsertAccount(_ context.Context, a domain.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[a.ID]; ok {
		a.Balance = existing.Balance
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) ListAccountsWithBalance(_ context.Context) ([]domain.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserAccount, 0)
	for _, a := range m.accounts {
		if a.Balance.IsPositive() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ApplyTransaction(_ context.Context, t domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txKeys[t.IdempotencyKey] {
		return false, nil
	}
	m.txKeys[t.IdempotencyKey] = true
	m.transactions = append(m.transactions, t)
	a := m.accounts[t.UserID]
	a.ID = t.UserID
	a.Balance = a.Balance.Add(t.Delta())
	m.accounts[t.UserID] = a
	return true, nil
}

func (m *Memory) ListTransactions(_ context.Context, userID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0)
	for _, t := range m.transactions {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) InsertPayoutRecord(_ context.Context, r domain.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payoutIndex(r.SenderBatchID) >= 0 {
		return nil
	}
	m.payoutRecords = append(m.payoutRecords, r)
	return nil
}

func (m *Memory) payoutIndex(senderBatchID string) int {
	for i, r := range m.payoutRecords {
		if r.SenderBatchID == senderBatchID {
			return i
		}
	}
	return -1
}

func (m *Memory) ListUnsettledPayouts(_ context.Context) ([]domain.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PayoutRecord, 0)
	for _, r := range m.payoutRecords {
		if !r.Settled() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) MarkPayoutSent(_ context.Context, senderBatchID, batchID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.payoutIndex(senderBatchID)
	if i < 0 {
		return domain.ErrNotFound
	}
	m.payoutRecords[i].BatchID = batchID
	m.payoutRecords[i].Status = status
	return nil
}

func (m *Memory) SettlePayout(_ context.Context, senderBatchID, batchID, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.payoutIndex(senderBatchID)
	if i < 0 {
		return domain.ErrNotFound
	}
	r := &m.payoutRecords[i]
	if batchID != "" {
		r.BatchID = batchID
		r.Status = status
	}
	if r.SettledAt == nil {
		r.SettledAt = &at
	}
	return nil
}

func (m *Memory) ListPayoutRecords(_ context.Context, userID string) ([]domain.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PayoutRecord, 0)
	for _, r := range m.payoutRecords {
		if userID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) InsertPayoutError(_ context.Context, e domain.PayoutError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutErrors = append(m.payoutErrors, e)
	return nil
}

func (m *Memory) InsertPayoutSession(_ context.Context, s domain.PayoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutRuns = append(m.payoutRuns, s)
	return nil
}

func (m *Memory) AggregateSeller(_ context.Context, userID string) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.UserStats{UserID: userID, Revenue: decimal.Zero}
	owned := make(map[string]bool)
	for _, p := range m.products {
		if p.OwnerID == userID {
			st.Listings++
			owned[p.ID] = true
		}
	}
	for _, v := range m.views {
		if owned[v.ProductID] {
			st.Views++
		}
	}
	for _, o := range m.orders {
		if o.SellerID != userID || !o.Status.CountsAsRevenue() {
			continue
		}
		st.Orders++
		if o.Status.Fulfilled() {
			st.Shipped++
		}
		st.Revenue = st.Revenue.Add(o.NetSeller)
	}
	return st, nil
}

func (m *Memory) PutUserStats(_ context.Context, s domain.UserStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[s.UserID] = s
	return nil
}

func (m *Memory) GetUserStats(_ context.Context, userID string) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Memory) IncrementShipped(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[userID]
	s.UserID = userID
	s.Shipped++
	m.stats[userID] = s
	return nil
}

func (m *Memory) HasWarning(_ context.Context, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.warnings[productID]
	return ok, nil
}

func (m *Memory) MarkWarning(_ context.Context, w domain.WarningSent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings[w.ProductID] = w
	return nil
}

func (m *Memory) EnqueueNotification(_ context.Context, n domain.NotificationIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return nil
	}
	m.outboxOrder = append(m.outboxOrder, n.ID)
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) ListPendingNotifications(_ context.Context, limit int) ([]domain.NotificationIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationIntent, 0)
	for _, id := range m.outboxOrder {
		n := m.notifications[id]
		if n.SentAt != nil {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.SentAt = &at
	n.Attempts++
	m.notifications[id] = n
	return nil
}

func (m *Memory) MarkNotificationFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Attempts++
	n.LastError = reason
	m.notifications[id] = n
	return nil
}

func (m *Memory) InsertSystemError(_ context.Context, e domain.SystemError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemErrors = append(m.systemErrors, e)
	return nil
}

func (m *Memory) DeleteByProduct(_ context.Context, c Cascade, productID string, batchSize int) (int, error) {
	if err := checkCascade(c); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultDeleteBatch
	}
	total := 0
	for {
		n := m.deleteBatch(c.Collection, productID, batchSize)
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}

func (m *Memory) deleteBatch(collection, productID string, limit int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch collection {
	case "access_logs":
		var n int
		m.accessLogs, n = dropMatching(m.accessLogs, limit, func(l domain.AccessLog) bool { return l.ProductID == productID })
		return n
	case "access_attempts":
		var n int
		m.accessAttempts, n = dropMatching(m.accessAttempts, limit, func(a domain.AccessAttempt) bool { return a.ProductID == productID })
		return n
	case "link_details":
		var n int
		m.linkDetails, n = dropMatching(m.linkDetails, limit, func(l domain.LinkDetail) bool { return l.ProductID == productID })
		return n
	case "product_views":
		var n int
		m.views, n = dropMatching(m.views, limit, func(v domain.ProductView) bool { return v.ProductID == productID })
		return n
	case "orders":
		n := 0
		for id, o := range m.orders {
			if n == limit {
				break
			}
			if o.ProductID == productID {
				delete(m.orders, id)
				delete(m.orderBySession, o.SessionID)
				n++
			}
		}
		return n
	case "payment_sessions":
		n := 0
		for id, s := range m.sessions {
			if n == limit {
				break
			}
			if s.ProductID == productID {
				delete(m.sessions, id)
				n++
			}
		}
		return n
	case "warnings_sent":
		if _, ok := m.warnings[productID]; ok {
			delete(m.warnings, productID)
			return 1
		}
	}
	return 0
}

func dropMatching[T any](items []T, limit int, match func(T) bool) ([]T, int) {
	n := 0
	out := items[:0]
	for _, item := range items {
		if n < limit && match(item) {
			n++
			continue
		}
		out = append(out, item)
	}
	return out, n
}

// CountByProduct reports how many rows of a cascade collection reference productID.
func (m *Memory) CountByProduct(collection, productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	switch collection {
	case "access_logs":
		for _, l := range m.accessLogs {
			if l.ProductID == productID {
				n++
			}
		}
	case "access_attempts":
		for _, a := range m.accessAttempts {
			if a.ProductID == productID {
				n++
			}
		}
	case "link_details":
		for _, l := range m.linkDetails {
			if l.ProductID == productID {
				n++
			}
		}
	case "product_views":
		for _, v := range m.views {
			if v.ProductID == productID {
				n++
			}
		}
	case "orders":
		for _, o := range m.orders {
			if o.ProductID == productID {
				n++
			}
		}
	case "payment_sessions":
		for _, s := range m.sessions {
			if s.ProductID == productID {
				n++
			}
		}
	case "warnings_sent":
		if _, ok := m.warnings[productID]; ok {
			n = 1
		}
	case "transactions":
		for _, t := range m.transactions {
			if t.ProductID == productID {
				n++
			}
		}
	}
	return n
}

func (m *Memory) AccessAttempts() []domain.AccessAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.accessAttempts)
}

func (m *Memory) PayoutErrors() []domain.PayoutError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payoutErrors)
}

func (m *Memory) PayoutSessions() []domain.PayoutSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payoutRuns)
}

func (m *Memory) SystemErrors() []domain.SystemError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.systemErrors)
}

// Notifications returns every outbox row in enqueue order, sent or not.
func (m *Memory) Notifications() []domain.NotificationIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationIntent, 0, len(m.outboxOrder))
	for _, id := range m.outboxOrder {
		out = append(out, m.notifications[id])
	}
	return out
}
