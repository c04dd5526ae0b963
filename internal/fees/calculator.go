// Package fees computes the platform fee locked into an escrow at task creation.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type tier struct {
	threshold int64
	percent   decimal.Decimal
}

// Task-count tiers keyed on completed tasks before this one, highest first.
var taskTiers = []tier{
	{threshold: 200, percent: decimal.RequireFromString("12")},
	{threshold: 50, percent: decimal.RequireFromString("12.5")},
	{threshold: 12, percent: decimal.RequireFromString("15")},
	{threshold: 0, percent: decimal.RequireFromString("20")},
}

// Value tiers keyed on gross amount. Evaluated in listed order; the first
// threshold the amount reaches wins.
var valueTiers = []tier{
	{threshold: 20_000, percent: decimal.RequireFromString("10")},
	{threshold: 47_000, percent: decimal.RequireFromString("8")},
	{threshold: 123_000, percent: decimal.RequireFromString("6.5")},
	{threshold: 500_000, percent: decimal.RequireFromString("4")},
}

var hundred = decimal.NewFromInt(100)

// Quote is the full fee breakdown for one gross amount.
type Quote struct {
	TaskBasedFeePercent  decimal.Decimal  `json:"task_based_fee_percent"`
	ValueBasedFeePercent *decimal.Decimal `json:"value_based_fee_percent,omitempty"`
	AppliedFeePercent    decimal.Decimal  `json:"applied_fee_percent"`
	PlatformFee          int64            `json:"platform_fee"`
	NetPayout            int64            `json:"net_payout"`
}

// Calculate returns the fee quote for grossAmount given the requester's
// completed-task count. PlatformFee + NetPayout always equals grossAmount.
func Calculate(grossAmount int64, completedTasks int) (Quote, error) {
	if grossAmount <= 0 {
		return Quote{}, fmt.Errorf("gross amount must be positive, got %d", grossAmount)
	}
	if completedTasks < 0 {
		return Quote{}, fmt.Errorf("completed tasks must be non-negative, got %d", completedTasks)
	}

	q := Quote{TaskBasedFeePercent: taskBased(completedTasks)}
	q.AppliedFeePercent = q.TaskBasedFeePercent
	if v, ok := valueBased(grossAmount); ok {
		q.ValueBasedFeePercent = &v
		if v.LessThan(q.AppliedFeePercent) {
			q.AppliedFeePercent = v
		}
	}
	q.PlatformFee = Percent(grossAmount, q.AppliedFeePercent)
	q.NetPayout = grossAmount - q.PlatformFee
	return q, nil
}

// Percent returns round-half-up(amount * percent / 100) in minor units.
func Percent(amount int64, percent decimal.Decimal) int64 {
	v := decimal.NewFromInt(amount).Mul(percent).Div(hundred)
	// Round is half away from zero, which is half-up for the non-negative
	// amounts handled here.
	return v.Round(0).IntPart()
}

func taskBased(completed int) decimal.Decimal {
	for _, t := range taskTiers {
		if int64(completed) >= t.threshold {
			return t.percent
		}
	}
	return taskTiers[len(taskTiers)-1].percent
}

func valueBased(gross int64) (decimal.Decimal, bool) {
	for _, t := range valueTiers {
		if gross >= t.threshold {
			return t.percent, true
		}
	}
	return decimal.Decimal{}, false
}
