package gateway

import (
	"context"
	"fmt"

	"github.com/plutov/paypal/v4"
	"github.com/punchamoorthee/dropledger/internal/config"
	"github.com/punchamoorthee/dropledger/internal/domain"
)

type PayPal struct {
	client *paypal.Client
}

func NewPayPal(cfg config.PayPalConfig) (*PayPal, error) {
	base := paypal.APIBaseSandBox
	if cfg.Mode == "live" {
		base = paypal.APIBaseLive
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	return &PayPal{client: c}, nil
}

// SendPayout issues a single-item payout batch. SenderBatchID is the network's
// own dedup key, so a retried call with the same id is rejected upstream.
func (p *PayPal) SendPayout(ctx context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error) {
	resp, err := p.client.CreatePayout(ctx, paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: req.SenderBatchID,
			EmailSubject:  "You have a payout",
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "EMAIL",
				Receiver:      req.Receiver,
				Amount: &paypal.AmountPayout{
					Value:    req.Amount.StringFixed(2),
					Currency: req.Currency,
				},
				SenderItemID: req.UserID,
			},
		},
	})
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("create payout %s: %w", req.SenderBatchID, err)
	}
	if resp == nil || resp.BatchHeader == nil {
		return domain.PayoutReceipt{}, fmt.Errorf("create payout %s: empty batch header", req.SenderBatchID)
	}
	return domain.PayoutReceipt{
		BatchID: resp.BatchHeader.PayoutBatchID,
		Status:  resp.BatchHeader.BatchStatus,
	}, nil
}
