// Package amortization computes fixed-payment loan schedules and the
// derived figures built on top of them. Every function is pure: identical
// inputs always produce identical outputs, degenerate inputs produce
// zeroed or empty results rather than errors.
package amortization

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finchley/loanledger/pkg/models"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
	one     = decimal.NewFromInt(1)
)

// Details summarizes the cost of a loan over its full term.
type Details struct {
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalPayments  int             `json:"total_payments"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// monthlyRate converts an annual percentage rate to a monthly decimal
// rate. The schedule math always uses a monthly rate, even when payments
// fall due biweekly or weekly; only the date stepping changes per
// frequency. See the pinning test before changing this.
func monthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.Div(hundred).Div(twelve)
}

// MonthlyPayment returns the fixed installment for a loan of the given
// principal, annual percentage rate and term. Zero-rate loans split the
// principal evenly. No rounding is applied; callers round for display.
func MonthlyPayment(principal, annualRatePct decimal.Decimal, termMonths int) decimal.Decimal {
	if principal.LessThanOrEqual(decimal.Zero) || termMonths <= 0 {
		return decimal.Zero
	}
	if annualRatePct.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(termMonths)))
	}

	rate := monthlyRate(annualRatePct)
	// (1+r)^n needs a float pow; everything else stays decimal.
	factor := decimal.NewFromFloat(math.Pow(1+rate.InexactFloat64(), float64(termMonths)))
	return principal.Mul(rate).Mul(factor).Div(factor.Sub(one))
}

// LoanDetails returns the installment plus total cost figures for a loan.
// All fields are zero when principal or term is non-positive.
func LoanDetails(principal, annualRatePct decimal.Decimal, termMonths int) Details {
	if principal.LessThanOrEqual(decimal.Zero) || termMonths <= 0 {
		return Details{MonthlyPayment: decimal.Zero, TotalInterest: decimal.Zero, TotalAmount: decimal.Zero}
	}
	payment := MonthlyPayment(principal, annualRatePct, termMonths)
	total := payment.Mul(decimal.NewFromInt(int64(termMonths)))
	return Details{
		MonthlyPayment: payment,
		TotalPayments:  termMonths,
		TotalInterest:  total.Sub(principal),
		TotalAmount:    total,
	}
}

// stepDate advances a schedule date by one period of the given frequency.
// Frequencies outside the schedule set fall back to monthly stepping.
func stepDate(d time.Time, freq models.PaymentFrequency) time.Time {
	switch freq {
	case models.FrequencyBiweekly:
		return d.AddDate(0, 0, 14)
	case models.FrequencyWeekly:
		return d.AddDate(0, 0, 7)
	default:
		return d.AddDate(0, 1, 0)
	}
}

// Schedule generates the full amortization schedule: exactly termMonths
// rows regardless of frequency. Each row splits the flat installment into
// interest on the running balance and the principal remainder; the
// balance is floored at zero. Empty when principal or term is
// non-positive.
func Schedule(principal, annualRatePct decimal.Decimal, termMonths int, startDate time.Time, freq models.PaymentFrequency) []models.AmortizationPayment {
	if principal.LessThanOrEqual(decimal.Zero) || termMonths <= 0 {
		return nil
	}

	payment := MonthlyPayment(principal, annualRatePct, termMonths)
	rate := monthlyRate(annualRatePct)
	remaining := principal
	date := startDate

	schedule := make([]models.AmortizationPayment, 0, termMonths)
	for n := 1; n <= termMonths; n++ {
		date = stepDate(date, freq)

		interest := remaining.Mul(rate)
		principalPart := payment.Sub(interest)
		remaining = remaining.Sub(principalPart)
		if remaining.LessThan(decimal.Zero) {
			remaining = decimal.Zero
		}

		schedule = append(schedule, models.AmortizationPayment{
			PaymentNumber:    n,
			PaymentDate:      date,
			PrincipalPayment: principalPart,
			InterestPayment:  interest,
			TotalPayment:     payment,
			RemainingBalance: remaining,
		})
	}
	return schedule
}

// Progress returns the percentage of principal repaid. It is not clamped:
// under the balance invariant the result stays within [0,100], and a
// violation of that invariant should be visible, not masked.
func Progress(principal, currentBalance decimal.Decimal) decimal.Decimal {
	if principal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return principal.Sub(currentBalance).Div(principal).Mul(hundred)
}

// NextPayment returns the first not-yet-paid scheduled row, i.e. the row
// at index paidCount. The second return is false when the schedule is
// exhausted.
func NextPayment(schedule []models.AmortizationPayment, paidCount int) (models.AmortizationPayment, bool) {
	if paidCount < 0 || paidCount >= len(schedule) {
		return models.AmortizationPayment{}, false
	}
	return schedule[paidCount], true
}

// InterestPaid sums scheduled interest over the first paymentsMade rows.
// This is a schedule-derived projection; callers tracking real money
// should sum recorded payment rows instead.
func InterestPaid(schedule []models.AmortizationPayment, paymentsMade int) decimal.Decimal {
	return sumRows(schedule, paymentsMade, func(p models.AmortizationPayment) decimal.Decimal {
		return p.InterestPayment
	})
}

// PrincipalPaid sums scheduled principal over the first paymentsMade rows.
func PrincipalPaid(schedule []models.AmortizationPayment, paymentsMade int) decimal.Decimal {
	return sumRows(schedule, paymentsMade, func(p models.AmortizationPayment) decimal.Decimal {
		return p.PrincipalPayment
	})
}

func sumRows(schedule []models.AmortizationPayment, n int, field func(models.AmortizationPayment) decimal.Decimal) decimal.Decimal {
	if n > len(schedule) {
		n = len(schedule)
	}
	sum := decimal.Zero
	for i := 0; i < n; i++ {
		sum = sum.Add(field(schedule[i]))
	}
	return sum
}

// EarlyPayoff returns the balance owed after paymentsMade installments of
// a schedule regenerated from "now" rather than the loan's start date.
// The "now" anchor reproduces the behavior the product shipped with; only
// the balance is read off, so the shifted dates do not affect the figure.
// Kept isolated here so the anchoring question stays contained.
func EarlyPayoff(principal, annualRatePct decimal.Decimal, termMonths, paymentsMade int) decimal.Decimal {
	schedule := Schedule(principal, annualRatePct, termMonths, time.Now(), models.FrequencyMonthly)
	if len(schedule) == 0 {
		return decimal.Zero
	}
	if paymentsMade <= 0 {
		return principal
	}
	if paymentsMade >= len(schedule) {
		return decimal.Zero
	}
	return schedule[paymentsMade-1].RemainingBalance
}

// InterestSaved returns the scheduled interest still outstanding after
// paymentsMade installments: the amount avoided by paying off early. Same
// "now" anchoring caveat as EarlyPayoff.
func InterestSaved(principal, annualRatePct decimal.Decimal, termMonths, paymentsMade int) decimal.Decimal {
	schedule := Schedule(principal, annualRatePct, termMonths, time.Now(), models.FrequencyMonthly)
	if paymentsMade < 0 {
		paymentsMade = 0
	}
	saved := decimal.Zero
	for i := paymentsMade; i < len(schedule); i++ {
		saved = saved.Add(schedule[i].InterestPayment)
	}
	return saved
}
