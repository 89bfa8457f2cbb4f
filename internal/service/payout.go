package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/ledger"
	"github.com/punchamoorthee/dropledger/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type PayoutConfig struct {
	Fees           fees.Schedule
	Threshold      decimal.Decimal
	ChunkSize      int
	ChunkPause     time.Duration
	CallsPerSecond float64
	Timeout        time.Duration
	Currency       string
}

// PayoutProcessor pays out seller balances one user at a time. Users never run
// concurrently, so each balance read and debit happens with no other writer.
type PayoutProcessor struct {
	store   store.Store
	ledger  *ledger.Writer
	network PayoutNetwork
	stats   *StatsRecomputer
	cfg     PayoutConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

func NewPayoutProcessor(st store.Store, network PayoutNetwork, cfg PayoutConfig, logger *slog.Logger) *PayoutProcessor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}
	return &PayoutProcessor{
		store:   st,
		ledger:  ledger.NewWriter(st),
		network: network,
		stats:   NewStatsRecomputer(st),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  loggerOr(logger),
		now:     utcNow,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run first finishes payouts left unsettled by earlier runs, then pays every
// eligible balance. A user with an unsettled payout gets no new one.
func (p *PayoutProcessor) Run(ctx context.Context) (domain.PayoutSession, error) {
	run := domain.PayoutSession{
		ID:         uuid.NewString(),
		StartedAt:  p.now(),
		TotalGross: decimal.Zero,
		TotalNet:   decimal.Zero,
	}

	blocked, err := p.resumeUnsettled(ctx, &run)
	if err != nil {
		return run, err
	}

	accounts, err := p.store.ListAccountsWithBalance(ctx)
	if err != nil {
		return run, err
	}

	eligible := make([]domain.UserAccount, 0, len(accounts))
	for _, a := range accounts {
		switch {
		case blocked[a.ID]:
			p.logger.Warn("payout still unsettled",
				"module", "payout",
				"operation", "select",
				"outcome", "skipped",
				"user_id", a.ID,
			)
		case a.Balance.LessThan(p.cfg.Threshold):
			run.BelowMinimum++
			p.belowMinimum(ctx, run.ID, a)
		case !validEmail(a.PayoutEmail):
			p.logger.Warn("payout destination missing or invalid",
				"module", "payout",
				"operation", "select",
				"outcome", "skipped",
				"user_id", a.ID,
			)
		default:
			eligible = append(eligible, a)
		}
	}
	run.Eligible += len(eligible)

	for start := 0; start < len(eligible); start += p.cfg.ChunkSize {
		if start > 0 && p.cfg.ChunkPause > 0 {
			p.sleep(ctx, p.cfg.ChunkPause)
		}
		end := min(start+p.cfg.ChunkSize, len(eligible))
		for _, a := range eligible[start:end] {
			split, err := p.payOne(ctx, a)
			p.tally(ctx, &run, a, split, err)
		}
	}

	run.FinishedAt = p.now()
	if err := p.store.InsertPayoutSession(ctx, run); err != nil {
		p.logger.Error("payout session not recorded", "module", "payout", "operation", "summary", "outcome", "failed", "error", err)
	}
	p.logger.Info("payout run finished",
		"module", "payout",
		"operation", "run",
		"outcome", "completed",
		"eligible", run.Eligible,
		"paid", run.Paid,
		"failed", run.Failed,
		"below_minimum", run.BelowMinimum,
		"total_gross", run.TotalGross.StringFixed(2),
	)
	return run, nil
}

func (p *PayoutProcessor) tally(ctx context.Context, run *domain.PayoutSession, a domain.UserAccount, split fees.PayoutSplit, err error) {
	if err != nil {
		run.Failed++
		payoutsTotal.WithLabelValues("failed").Inc()
		p.recordFailure(ctx, a, err)
		return
	}
	run.Paid++
	run.TotalGross = run.TotalGross.Add(split.Gross)
	run.TotalNet = run.TotalNet.Add(split.Net)
	payoutsTotal.WithLabelValues("paid").Inc()
}

// resumeUnsettled drives every unsettled record to settlement under its stored
// sender batch id and amounts. It returns the users still unsettled afterwards.
func (p *PayoutProcessor) resumeUnsettled(ctx context.Context, run *domain.PayoutSession) (map[string]bool, error) {
	pending, err := p.store.ListUnsettledPayouts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsettled payouts: %w", err)
	}
	blocked := make(map[string]bool)
	for _, r := range pending {
		if blocked[r.UserID] {
			continue
		}
		run.Eligible++
		a, err := p.store.GetAccount(ctx, r.UserID)
		if err != nil {
			blocked[r.UserID] = true
			p.tally(ctx, run, domain.UserAccount{ID: r.UserID, Balance: r.Gross}, fees.PayoutSplit{}, fmt.Errorf("load account: %w", err))
			continue
		}
		p.logger.Info("resuming unsettled payout",
			"module", "payout",
			"operation", "resume",
			"outcome", "started",
			"user_id", r.UserID,
			"sender_batch_id", r.SenderBatchID,
			"sent", r.Sent(),
		)
		split, err := p.settle(ctx, r, a)
		if err != nil {
			blocked[r.UserID] = true
		}
		p.tally(ctx, run, a, split, err)
	}
	return blocked, nil
}

// payOne reserves a payout record before calling the network, so a failure at
// any later step is finished by the next run under the same sender batch id.
func (p *PayoutProcessor) payOne(ctx context.Context, a domain.UserAccount) (fees.PayoutSplit, error) {
	split, err := p.cfg.Fees.ComputePayoutSplit(a.Balance)
	if err != nil {
		return fees.PayoutSplit{}, err
	}
	r := domain.PayoutRecord{
		ID:            uuid.NewString(),
		UserID:        a.ID,
		Net:           split.Net,
		Gross:         split.Gross,
		Fee:           split.Fee,
		SenderBatchID: fmt.Sprintf("payout_%s_%s", p.now().Format("20060102T150405"), a.ID),
		Status:        domain.PayoutReserved,
		CreatedAt:     p.now(),
	}
	if err := p.store.InsertPayoutRecord(ctx, r); err != nil {
		return fees.PayoutSplit{}, fmt.Errorf("reserve payout: %w", err)
	}
	return p.settle(ctx, r, a)
}

// settle sends r if the network has not accepted it yet, then debits the
// balance and marks the record settled. Every step is safe to repeat.
func (p *PayoutProcessor) settle(ctx context.Context, r domain.PayoutRecord, a domain.UserAccount) (fees.PayoutSplit, error) {
	split := fees.PayoutSplit{Gross: r.Gross, Fee: r.Fee, Net: r.Net}

	if !r.Sent() {
		if err := p.limiter.Wait(ctx); err != nil {
			return fees.PayoutSplit{}, err
		}
		callCtx, cancel := withTimeout(ctx, p.cfg.Timeout)
		receipt, err := p.network.SendPayout(callCtx, domain.PayoutRequest{
			SenderBatchID: r.SenderBatchID,
			UserID:        a.ID,
			Receiver:      a.PayoutEmail,
			Amount:        r.Net,
			Currency:      p.cfg.Currency,
		})
		cancel()
		if err != nil {
			return fees.PayoutSplit{}, fmt.Errorf("payout network: %w", err)
		}
		r.BatchID, r.Status = receipt.BatchID, receipt.Status
		if err := p.store.MarkPayoutSent(ctx, r.SenderBatchID, r.BatchID, r.Status); err != nil {
			p.systemError(ctx, "payout record not marked sent", r, err)
		}
	}

	if _, _, err := p.ledger.DebitPayout(ctx, ledger.PayoutDebit{
		SenderBatchID: r.SenderBatchID,
		UserID:        a.ID,
		Split:         split,
	}); err != nil {
		p.systemError(ctx, "payout sent but balance not debited", r, err)
		return fees.PayoutSplit{}, fmt.Errorf("debit after transfer %s: %w", r.BatchID, err)
	}
	if err := p.store.SettlePayout(ctx, r.SenderBatchID, r.BatchID, r.Status, p.now()); err != nil {
		p.systemError(ctx, "payout record not settled", r, err)
	}

	enqueue(ctx, p.store, p.logger, domain.NotificationIntent{
		ID:        string(domain.NotifyPayoutSent) + ":" + r.SenderBatchID,
		Kind:      domain.NotifyPayoutSent,
		Recipient: a.PayoutEmail,
		Data: map[string]string{
			"net":      split.Net.StringFixed(2),
			"fee":      split.Fee.StringFixed(2),
			"batch_id": r.BatchID,
		},
	})
	if _, err := p.stats.Recompute(ctx, a.ID); err != nil {
		p.logger.Warn("stats recompute failed", "module", "payout", "operation", "recompute_stats", "outcome", "failed", "user_id", a.ID, "error", err)
	}
	p.logger.Info("payout sent",
		"module", "payout",
		"operation", "pay",
		"outcome", "paid",
		"user_id", a.ID,
		"batch_id", r.BatchID,
		"gross", split.Gross.StringFixed(2),
		"net", split.Net.StringFixed(2),
	)
	return split, nil
}

// systemError persists a bookkeeping failure on a payout whose money has
// already moved, so the record can be repaired.
func (p *PayoutProcessor) systemError(ctx context.Context, msg string, r domain.PayoutRecord, cause error) {
	p.logger.Error(msg,
		"module", "payout",
		"operation", "record",
		"outcome", "failed",
		"user_id", r.UserID,
		"sender_batch_id", r.SenderBatchID,
		"batch_id", r.BatchID,
		"error", cause,
	)
	if err := p.store.InsertSystemError(ctx, domain.SystemError{
		ID:        uuid.NewString(),
		Job:       "payout",
		Message:   fmt.Sprintf("%s: user=%s sender_batch_id=%s batch_id=%s: %v", msg, r.UserID, r.SenderBatchID, r.BatchID, cause),
		CreatedAt: p.now(),
	}); err != nil {
		p.logger.Error("system error not recorded", "module", "payout", "operation", "record", "outcome", "failed", "error", err)
	}
}

func (p *PayoutProcessor) recordFailure(ctx context.Context, a domain.UserAccount, cause error) {
	p.logger.Warn("payout failed",
		"module", "payout",
		"operation", "pay",
		"outcome", "failed",
		"user_id", a.ID,
		"error", cause,
	)
	if err := p.store.InsertPayoutError(ctx, domain.PayoutError{
		ID:        uuid.NewString(),
		UserID:    a.ID,
		Gross:     a.Balance,
		Reason:    cause.Error(),
		CreatedAt: p.now(),
	}); err != nil {
		p.logger.Error("payout error not recorded", "module", "payout", "operation", "record_error", "outcome", "failed", "user_id", a.ID, "error", err)
	}
}

func (p *PayoutProcessor) belowMinimum(ctx context.Context, runID string, a domain.UserAccount) {
	recipient := a.Email
	if recipient == "" {
		recipient = a.PayoutEmail
	}
	if recipient == "" {
		return
	}
	enqueue(ctx, p.store, p.logger, domain.NotificationIntent{
		ID:        string(domain.NotifyBelowMinimum) + ":" + runID + ":" + a.ID,
		Kind:      domain.NotifyBelowMinimum,
		Recipient: recipient,
		Data: map[string]string{
			"balance":   a.Balance.StringFixed(2),
			"threshold": p.cfg.Threshold.StringFixed(2),
		},
	})
}
