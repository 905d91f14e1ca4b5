package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InterestMethod selects how loan interest accrues.
type InterestMethod string

const (
	// InterestFixed charges rate% of principal once over the whole term.
	InterestFixed InterestMethod = "fixed"
	// InterestReducing amortises on the outstanding balance (equal monthly instalments).
	InterestReducing InterestMethod = "reducing"
	// InterestFlat charges rate% of principal per year of term.
	InterestFlat InterestMethod = "flat"
)

// Installment is one month of a repayment schedule.
type Installment struct {
	Month     int             `json:"month"`
	DueDate   time.Time       `json:"due_date"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// LoanSchedule is the repayment plan of a disbursed loan.
type LoanSchedule struct {
	Method         InterestMethod  `json:"method"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalRepayment decimal.Decimal `json:"total_repayment"`
	MaturityDate   time.Time       `json:"maturity_date"`
	Installments   []Installment   `json:"installments"`
}

// InterestSchedule computes a repayment plan. annualRate is a percentage (12 means 12%).
type InterestSchedule func(principal, annualRate decimal.Decimal, months int, start time.Time, method InterestMethod) (*LoanSchedule, error)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// CalculateLoan is the default InterestSchedule. An empty method means flat.
func CalculateLoan(principal, annualRate decimal.Decimal, months int, start time.Time, method InterestMethod) (*LoanSchedule, error) {
	if !principal.IsPositive() {
		return nil, fmt.Errorf("principal must be greater than 0")
	}
	if annualRate.IsNegative() {
		return nil, fmt.Errorf("interest rate cannot be negative")
	}
	if months <= 0 {
		return nil, fmt.Errorf("term must be at least one month")
	}
	if method == "" {
		method = InterestFlat
	}

	n := decimal.NewFromInt(int64(months))
	var s *LoanSchedule
	switch method {
	case InterestFixed:
		s = evenSchedule(principal, principal.Mul(annualRate).Div(hundred), months)
	case InterestFlat:
		s = evenSchedule(principal, principal.Mul(annualRate).Div(hundred).Mul(n).Div(twelve), months)
	case InterestReducing:
		s = reducingSchedule(principal, annualRate, months)
	default:
		return nil, fmt.Errorf("unknown interest method %q", method)
	}

	s.Method = method
	s.MaturityDate = start.AddDate(0, months, 0)
	for i := range s.Installments {
		s.Installments[i].DueDate = start.AddDate(0, i+1, 0)
	}
	return s, nil
}

// evenSchedule spreads principal and interest evenly; the last month absorbs rounding.
func evenSchedule(principal, interest decimal.Decimal, months int) *LoanSchedule {
	n := decimal.NewFromInt(int64(months))
	total := principal.Add(interest)
	monthlyPrincipal := principal.Div(n).Round(2)
	monthlyInterest := interest.Div(n).Round(2)

	s := &LoanSchedule{
		MonthlyPayment: total.Div(n).Round(2),
		TotalInterest:  interest.Round(2),
		TotalRepayment: total.Round(2),
	}

	balance := principal.Round(2)
	paidInterest := decimal.Zero
	for m := 1; m <= months; m++ {
		p, i := monthlyPrincipal, monthlyInterest
		if m == months {
			p = balance
			i = s.TotalInterest.Sub(paidInterest)
		}
		balance = balance.Sub(p)
		paidInterest = paidInterest.Add(i)
		s.Installments = append(s.Installments, Installment{
			Month:     m,
			Payment:   p.Add(i),
			Principal: p,
			Interest:  i,
			Balance:   balance,
		})
	}
	return s
}

func reducingSchedule(principal, annualRate decimal.Decimal, months int) *LoanSchedule {
	n := decimal.NewFromInt(int64(months))
	r := annualRate.Div(hundred).Div(twelve)

	var payment decimal.Decimal
	if r.IsZero() {
		payment = principal.Div(n)
	} else {
		growth := decimal.NewFromInt(1).Add(r).Pow(n)
		payment = principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	}

	s := &LoanSchedule{MonthlyPayment: payment.Round(2)}
	balance := principal
	totalInterest := decimal.Zero
	for m := 1; m <= months; m++ {
		interest := balance.Mul(r)
		p := payment.Sub(interest)
		if m == months {
			p = balance
		}
		balance = balance.Sub(p)
		totalInterest = totalInterest.Add(interest)
		s.Installments = append(s.Installments, Installment{
			Month:     m,
			Payment:   p.Add(interest).Round(2),
			Principal: p.Round(2),
			Interest:  interest.Round(2),
			Balance:   balance.Round(2),
		})
	}
	s.TotalInterest = totalInterest.Round(2)
	s.TotalRepayment = principal.Add(totalInterest).Round(2)
	return s
}
