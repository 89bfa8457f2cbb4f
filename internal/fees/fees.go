// Package fees computes sale and payout splits. Every function here is pure.
package fees

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Amounts are rounded to cents after each component is computed.
const places = 2

// Rate is a percentage of gross plus a fixed amount.
type Rate struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
}

func (r Rate) apply(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(r.Percent).Add(r.Fixed).Round(places)
}

// PayoutRate is the payout network's schedule. A zero Cap means uncapped.
type PayoutRate struct {
	Rate
	Cap decimal.Decimal
}

// Schedule holds the per-channel rates, the platform commission and the payout rate.
type Schedule struct {
	Channels     map[string]Rate
	PlatformRate decimal.Decimal
	Payout       PayoutRate
}

// SaleSplit is one sale divided into channel fee, commission and the seller's net.
type SaleSplit struct {
	Gross      decimal.Decimal
	ChannelFee decimal.Decimal
	Commission decimal.Decimal
	NetSeller  decimal.Decimal
}

// PayoutSplit is a payout's gross, the network fee and what the seller receives.
type PayoutSplit struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// DefaultSchedule mirrors the production fee table.
func DefaultSchedule() Schedule {
	return Schedule{
		Channels: map[string]Rate{
			"card":       {Percent: decimal.RequireFromString("0.029"), Fixed: decimal.RequireFromString("0.30")},
			"paypal":     {Percent: decimal.RequireFromString("0.0349"), Fixed: decimal.RequireFromString("0.49")},
			"sepa_debit": {Percent: decimal.RequireFromString("0.008"), Fixed: decimal.Zero},
		},
		PlatformRate: decimal.RequireFromString("0.12"),
		Payout: PayoutRate{
			Rate: Rate{Percent: decimal.RequireFromString("0.02"), Fixed: decimal.Zero},
			Cap:  decimal.RequireFromString("1.00"),
		},
	}
}

// ComputeSaleSplit returns the channel fee, platform commission and net seller amount
// for a sale of gross on channel.
func (s Schedule) ComputeSaleSplit(gross decimal.Decimal, channel string) (SaleSplit, error) {
	rate, ok := s.Channels[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return SaleSplit{}, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channel)
	}
	channelFee := rate.apply(gross)
	commission := gross.Mul(s.PlatformRate).Round(places)
	net := gross.Sub(channelFee).Sub(commission)
	if !net.IsPositive() {
		return SaleSplit{}, fmt.Errorf("%w: gross %s on %s", domain.ErrInvalidAmount, gross.StringFixed(places), channel)
	}
	return SaleSplit{
		Gross:      gross,
		ChannelFee: channelFee,
		Commission: commission,
		NetSeller:  net,
	}, nil
}

// ComputePayoutSplit returns the payout network fee and the net amount transferred.
// The fee comes out of the transfer; the balance is always debited by gross.
func (s Schedule) ComputePayoutSplit(gross decimal.Decimal) (PayoutSplit, error) {
	fee := s.Payout.apply(gross)
	if s.Payout.Cap.IsPositive() && fee.GreaterThan(s.Payout.Cap) {
		fee = s.Payout.Cap
	}
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return PayoutSplit{}, fmt.Errorf("%w: payout gross %s", domain.ErrInvalidAmount, gross.StringFixed(places))
	}
	return PayoutSplit{Gross: gross, Fee: fee, Net: net}, nil
}
