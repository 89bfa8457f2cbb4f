package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Postgres struct {
	Db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

// Migrate applies the embedded SQL files in lexical order. Every statement is
// idempotent, so it is safe to run on each start.
func (s *Postgres) Migrate(ctx context.Context, logger *slog.Logger) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.Db.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		logger.InfoContext(ctx, "migration applied",
			"module", "store",
			"operation", "migrate",
			"outcome", "success",
			"migration", name,
		)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const productColumns = `id, owner_id, title, price, currency, file_key, cover_key, created_at, expires_at, sales_count, revenue`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Price, &p.Currency, &p.FileKey, &p.CoverKey,
		&p.CreatedAt, &p.ExpiresAt, &p.SalesCount, &p.Revenue)
	return p, err
}

func (s *Postgres) queryProducts(ctx context.Context, sql string, args ...any) ([]domain.Product, error) {
	rows, err := s.Db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(s.Db.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	return p, notFound(err)
}

func (s *Postgres) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO products ("+productColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		p.ID, p.OwnerID, p.Title, p.Price, p.Currency, p.FileKey, p.CoverKey, p.CreatedAt, p.ExpiresAt, p.SalesCount, p.Revenue)
	return err
}

func (s *Postgres) IncrementProductSales(ctx context.Context, id string, gross decimal.Decimal) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE products SET sales_count = sales_count + 1, revenue = revenue + $2 WHERE id = $1", id, gross)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListProductsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE created_at < $1 ORDER BY created_at, id LIMIT $2", cutoff, limit)
}

func (s *Postgres) ListProductsExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE expires_at >= $1 AND expires_at < $2 ORDER BY created_at, id", from, to)
}

func (s *Postgres) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	return err
}

func (s *Postgres) RecordView(ctx context.Context, v domain.ProductView) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO product_views (id, product_id, owner_id, viewed_at) VALUES ($1, $2, $3, $4)",
		v.ID, v.ProductID, v.OwnerID, v.ViewedAt)
	return err
}

func (s *Postgres) GetSession(ctx context.Context, id string) (domain.PaymentSession, error) {
	var ps domain.PaymentSession
	err := s.Db.QueryRow(ctx, `
		SELECT id, product_id, buyer_email, channel, external_session_id, checkout_url, completed, order_id, created_at
		FROM payment_sessions WHERE id = $1`, id).
		Scan(&ps.ID, &ps.ProductID, &ps.BuyerEmail, &ps.Channel, &ps.ExternalSessionID, &ps.CheckoutURL,
			&ps.Completed, &ps.OrderID, &ps.CreatedAt)
	return ps, notFound(err)
}

func (s *Postgres) InsertSession(ctx context.Context, ps domain.PaymentSession) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO payment_sessions (id, product_id, buyer_email, channel, external_session_id, checkout_url, completed, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ps.ID, ps.ProductID, ps.BuyerEmail, ps.Channel, ps.ExternalSessionID, ps.CheckoutURL, ps.Completed, ps.OrderID, ps.CreatedAt)
	return err
}

func (s *Postgres) CompleteSession(ctx context.Context, id, orderID string) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		"UPDATE payment_sessions SET completed = TRUE, order_id = $2 WHERE id = $1 AND completed = FALSE", id, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const orderColumns = `id, session_id, product_id, seller_id, buyer_email, gross, channel_fee, commission, net_seller,
	status, access_token, device_fingerprint, created_at, first_access_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.SessionID, &o.ProductID, &o.SellerID, &o.BuyerEmail, &o.Gross, &o.ChannelFee,
		&o.Commission, &o.NetSeller, &o.Status, &o.AccessToken, &o.DeviceFingerprint, &o.CreatedAt, &o.FirstAccessAt)
	return o, err
}

func (s *Postgres) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	tag, err := s.Db.Exec(ctx, "INSERT INTO orders ("+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO NOTHING`,
		o.ID, o.SessionID, o.ProductID, o.SellerID, o.BuyerEmail, o.Gross, o.ChannelFee, o.Commission, o.NetSeller,
		o.Status, o.AccessToken, o.DeviceFingerprint, o.CreatedAt, o.FirstAccessAt)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("order insert failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return o, true, nil
	}
	existing, err := s.GetOrderBySession(ctx, o.SessionID)
	if err != nil {
		return domain.Order{}, false, err
	}
	return existing, false, nil
}

func (s *Postgres) GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, error) {
	o, err := scanOrder(s.Db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE session_id = $1", sessionID))
	return o, notFound(err)
}

func (s *Postgres) GetOrderByToken(ctx context.Context, token string) (domain.Order, error) {
	o, err := scanOrder(s.Db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE access_token = $1", token))
	return o, notFound(err)
}

func (s *Postgres) BindFirstAccess(ctx context.Context, orderID, fingerprint string, at time.Time) (bool, error) {
	tag, err := s.Db.Exec(ctx, `
		UPDATE orders
		SET device_fingerprint = $2,
		    first_access_at = $3,
		    status = CASE WHEN status = 'completed' THEN 'shipped' ELSE status END
		WHERE id = $1 AND device_fingerprint = ''`, orderID, fingerprint, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) InsertAccessLog(ctx context.Context, l domain.AccessLog) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO access_logs (id, order_id, product_id, fingerprint, accessed_at) VALUES ($1, $2, $3, $4, $5)",
		l.ID, l.OrderID, l.ProductID, l.Fingerprint, l.AccessedAt)
	return err
}

func (s *Postgres) InsertAccessAttempt(ctx context.Context, a domain.AccessAttempt) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO access_attempts (id, order_id, product_id, fingerprint, reason, attempted_at) VALUES ($1, $2, $3, $4, $5, $6)",
		a.ID, a.OrderID, a.ProductID, a.Fingerprint, a.Reason, a.AttemptedAt)
	return err
}

func (s *Postgres) InsertLinkDetail(ctx context.Context, l domain.LinkDetail) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO link_details (id, order_id, product_id, issued_at, expires_at) VALUES ($1, $2, $3, $4, $5)",
		l.ID, l.OrderID, l.ProductID, l.IssuedAt, l.ExpiresAt)
	return err
}

func (s *Postgres) GetAccount(ctx context.Context, id string) (domain.UserAccount, error) {
	var a domain.UserAccount
	err := s.Db.QueryRow(ctx,
		"SELECT id, email, balance, payout_email, onboarded FROM user_accounts WHERE id = $1", id).
		Scan(&a.ID, &a.Email, &a.Balance, &a.PayoutEmail, &a.Onboarded)
	return a, notFound(err)
}

// UpsertAccount writes profile fields only. Balance is owned by ApplyTransaction.
func (s *Postgres) UpsertAccount(ctx context.Context, a domain.UserAccount) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO user_accounts (id, email, balance, payout_email, onboarded) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, payout_email = EXCLUDED.payout_email, onboarded = EXCLUDED.onboarded`,
		a.ID, a.Email, a.Balance, a.PayoutEmail, a.Onboarded)
	return err
}

func (s *Postgres) ListAccountsWithBalance(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, email, balance, payout_email, onboarded FROM user_accounts WHERE balance > 0 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.UserAccount
	for rows.Next() {
		var a domain.UserAccount
		if err := rows.Scan(&a.ID, &a.Email, &a.Balance, &a.PayoutEmail, &a.Onboarded); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyTransaction appends the ledger line and moves the balance by its delta in a
// single database transaction. The balance change is expressed as an increment.
func (s *Postgres) ApplyTransaction(ctx context.Context, t domain.Transaction) (bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, idempotency_key, user_id, type, amount, net, gross, fees, commission, order_id, product_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		t.ID, t.IdempotencyKey, t.UserID, t.Type, t.Amount, t.Net, t.Gross, t.Fees, t.Commission, t.OrderID, t.ProductID, t.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("transaction insert failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_accounts (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = user_accounts.balance + EXCLUDED.balance`,
		t.UserID, t.Delta())
	if err != nil {
		return false, fmt.Errorf("balance update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT id, idempotency_key, user_id, type, amount, net, gross, fees, commission, order_id, product_id, created_at
		FROM transactions WHERE ($1 = '' OR user_id = $1) ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.IdempotencyKey, &t.UserID, &t.Type, &t.Amount, &t.Net, &t.Gross, &t.Fees,
			&t.Commission, &t.OrderID, &t.ProductID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertPayoutRecord(ctx context.Context, r domain.PayoutRecord) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO payout_records (id, user_id, net, gross, fee, sender_batch_id, batch_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.Net, r.Gross, r.Fee, r.SenderBatchID, r.BatchID, r.Status, r.CreatedAt)
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

const payoutColumns = `id, user_id, net, gross, fee, sender_batch_id, batch_id, status, created_at, settled_at`

func (s *Postgres) queryPayouts(ctx context.Context, sql string, args ...any) ([]domain.PayoutRecord, error) {
	rows, err := s.Db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PayoutRecord
	for rows.Next() {
		var r domain.PayoutRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Net, &r.Gross, &r.Fee, &r.SenderBatchID, &r.BatchID, &r.Status, &r.CreatedAt, &r.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPayoutRecords(ctx context.Context, userID string) ([]domain.PayoutRecord, error) {
	return s.queryPayouts(ctx,
		"SELECT "+payoutColumns+" FROM payout_records WHERE ($1 = '' OR user_id = $1) ORDER BY created_at", userID)
}

func (s *Postgres) ListUnsettledPayouts(ctx context.Context) ([]domain.PayoutRecord, error) {
	return s.queryPayouts(ctx,
		"SELECT "+payoutColumns+" FROM payout_records WHERE settled_at IS NULL ORDER BY created_at")
}

func (s *Postgres) MarkPayoutSent(ctx context.Context, senderBatchID, batchID, status string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE payout_records SET batch_id = $2, status = $3 WHERE sender_batch_id = $1",
		senderBatchID, batchID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SettlePayout keeps the first settlement time. An empty batchID leaves the
// stored network reference untouched.
func (s *Postgres) SettlePayout(ctx context.Context, senderBatchID, batchID, status string, at time.Time) error {
	tag, err := s.Db.Exec(ctx, `
		UPDATE payout_records SET
			batch_id   = CASE WHEN $2 = '' THEN batch_id ELSE $2 END,
			status     = CASE WHEN $2 = '' THEN status ELSE $3 END,
			settled_at = COALESCE(settled_at, $4)
		WHERE sender_batch_id = $1`,
		senderBatchID, batchID, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) InsertPayoutError(ctx context.Context, e domain.PayoutError) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO payout_errors (id, user_id, gross, reason, created_at) VALUES ($1, $2, $3, $4, $5)",
		e.ID, e.UserID, e.Gross, e.Reason, e.CreatedAt)
	return err
}

func (s *Postgres) InsertPayoutSession(ctx context.Context, ps domain.PayoutSession) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO payout_sessions (id, started_at, finished_at, eligible, paid, failed, below_minimum, total_gross, total_net)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ps.ID, ps.StartedAt, ps.FinishedAt, ps.Eligible, ps.Paid, ps.Failed, ps.BelowMinimum, ps.TotalGross, ps.TotalNet)
	return err
}

// AggregateSeller recounts a seller's projection from the source tables.
func (s *Postgres) AggregateSeller(ctx context.Context, userID string) (domain.UserStats, error) {
	st := domain.UserStats{UserID: userID}
	batch := &pgx.Batch{}
	batch.Queue("SELECT count(*) FROM products WHERE owner_id = $1", userID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&st.Listings)
	})
	batch.Queue("SELECT count(*) FROM product_views WHERE owner_id = $1", userID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&st.Views)
	})
	batch.Queue(`
		SELECT count(*),
		       count(*) FILTER (WHERE status IN ('shipped', 'delivered')),
		       COALESCE(sum(net_seller), 0)
		FROM orders WHERE seller_id = $1 AND status <> 'cancelled'`, userID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&st.Orders, &st.Shipped, &st.Revenue)
	})
	if err := s.Db.SendBatch(ctx, batch).Close(); err != nil {
		return domain.UserStats{}, fmt.Errorf("aggregate seller %s: %w", userID, err)
	}
	return st, nil
}

func (s *Postgres) PutUserStats(ctx context.Context, st domain.UserStats) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO user_stats (user_id, listings, views, orders, shipped, revenue, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			listings = EXCLUDED.listings, views = EXCLUDED.views, orders = EXCLUDED.orders,
			shipped = EXCLUDED.shipped, revenue = EXCLUDED.revenue, computed_at = EXCLUDED.computed_at`,
		st.UserID, st.Listings, st.Views, st.Orders, st.Shipped, st.Revenue, st.ComputedAt)
	return err
}

func (s *Postgres) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	var st domain.UserStats
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, listings, views, orders, shipped, revenue, computed_at FROM user_stats WHERE user_id = $1", userID).
		Scan(&st.UserID, &st.Listings, &st.Views, &st.Orders, &st.Shipped, &st.Revenue, &st.ComputedAt)
	return st, notFound(err)
}

func (s *Postgres) IncrementShipped(ctx context.Context, userID string) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO user_stats (user_id, shipped) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET shipped = user_stats.shipped + 1`, userID)
	return err
}

func (s *Postgres) HasWarning(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM warnings_sent WHERE product_id = $1)", productID).Scan(&exists)
	return exists, err
}

func (s *Postgres) MarkWarning(ctx context.Context, w domain.WarningSent) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO warnings_sent (product_id, sent_at) VALUES ($1, $2) ON CONFLICT (product_id) DO NOTHING",
		w.ProductID, w.SentAt)
	return err
}

func (s *Postgres) EnqueueNotification(ctx context.Context, n domain.NotificationIntent) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO notification_outbox (id, kind, recipient, product_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Kind, n.Recipient, n.ProductID, n.Data, n.CreatedAt)
	return err
}

func (s *Postgres) ListPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Db.Query(ctx, `
		SELECT id, kind, recipient, product_id, data, created_at, attempts, last_error
		FROM notification_outbox WHERE sent_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.NotificationIntent
	for rows.Next() {
		var n domain.NotificationIntent
		if err := rows.Scan(&n.ID, &n.Kind, &n.Recipient, &n.ProductID, &n.Data, &n.CreatedAt, &n.Attempts, &n.LastError); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE notification_outbox SET sent_at = $2, attempts = attempts + 1 WHERE id = $1", id, at)
	return err
}

func (s *Postgres) MarkNotificationFailed(ctx context.Context, id, reason string) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE notification_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1", id, reason)
	return err
}

func (s *Postgres) InsertSystemError(ctx context.Context, e domain.SystemError) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO system_errors (id, job, message, stack, created_at) VALUES ($1, $2, $3, $4, $5)",
		e.ID, e.Job, e.Message, e.Stack, e.CreatedAt)
	return err
}

func (s *Postgres) DeleteByProduct(ctx context.Context, c Cascade, productID string, batchSize int) (int, error) {
	if err := checkCascade(c); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = DefaultDeleteBatch
	}
	table := pgx.Identifier{c.Collection}.Sanitize()
	column := pgx.Identifier{c.ForeignKey}.Sanitize()
	sql := fmt.Sprintf(
		"DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s = $1 LIMIT $2)", table, table, column)

	total := 0
	for {
		tag, err := s.Db.Exec(ctx, sql, productID, batchSize)
		if err != nil {
			return total, err
		}
		n := int(tag.RowsAffected())
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}
