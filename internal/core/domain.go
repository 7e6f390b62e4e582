package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Direction = "GANANCIA"
	Expense Direction = "GASTO"

	KindPlain        EntryKind = "plain"
	KindCarryForward EntryKind = "carry_forward"
	KindFormula      EntryKind = "formula"
)

type (
	Direction string

	Currency string

	// EntryKind tells the engine how an entry's amount is owned: by the user,
	// by the carry-forward cascade or by a named formula.
	EntryKind string

	Date struct {
		time.Time
	}

	LedgerEntry struct {
		ID            int64 // Assigned by the store
		CreatedOn     Date
		Period        Period
		Direction     Direction
		Group         string
		Label         string
		Account       string // Account or contract tag
		Installment   Installment
		SeriesID      string
		Kind          EntryKind
		Formula       string // Formula id when Kind is KindFormula
		Amount        decimal.Decimal
		Currency      Currency
		PaymentMethod string
		DueDate       Date
		Paid          bool
	}

	// Filter selects entries by natural fields. Zero values match anything.
	Filter struct {
		Period    Period
		Label     string
		Group     string
		Direction Direction
		Currency  Currency
		Kind      EntryKind
		Formula   string
		SeriesID  string
	}

	// EntryPatch is a partial update; nil fields are left untouched.
	EntryPatch struct {
		Period        *Period
		Direction     *Direction
		Group         *string
		Label         *string
		Account       *string
		Installment   *Installment
		SeriesID      *string
		Kind          *EntryKind
		Formula       *string
		Amount        *decimal.Decimal
		Currency      *Currency
		PaymentMethod *string
		DueDate       *Date
		Paid          *bool
	}
)

var (
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyLabel           = errors.New("empty label")
	ErrEmptyGroup           = errors.New("empty group")
	ErrUnknownPeriod        = errors.New("unknown period")
	ErrMalformedInstallment = errors.New("malformed installment")
	// ErrCarryForwardManaged rejects user writes that would add or reshape a
	// carry-forward entry; the cascade owns those rows.
	ErrCarryForwardManaged = errors.New("carry-forward entries are maintained by the ledger")
)

const dateLayout = "2006-01-02"

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string. The empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// String formats the date as YYYY-MM-DD, or "" when zero.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (dir Direction) Validate() error {
	switch dir {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidDirection
	}
}

func (c Currency) Validate() error {
	if len(c) != 3 || strings.ToUpper(string(c)) != string(c) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsSeries reports whether the entry belongs to a multi-installment series.
func (e LedgerEntry) IsSeries() bool {
	return e.Installment.Total > 1
}

// Signed returns the amount with the sign of its direction.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == Expense {
		return e.Amount.Neg()
	}
	return e.Amount
}

func (e LedgerEntry) Validate() error {
	if e.Period.IsZero() {
		return ErrUnknownPeriod
	}
	if err := e.Direction.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Label) == "" {
		return ErrEmptyLabel
	}
	if len(e.Label) > 200 {
		return errors.New("label too long (max 200 characters)")
	}
	if strings.TrimSpace(e.Group) == "" {
		return ErrEmptyGroup
	}
	if err := e.Currency.Validate(); err != nil {
		return err
	}
	if !e.Installment.IsZero() {
		if err := e.Installment.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether the entry satisfies every non-zero field of f.
func (f Filter) Matches(e LedgerEntry) bool {
	if !f.Period.IsZero() && f.Period != e.Period {
		return false
	}
	if f.Label != "" && f.Label != e.Label {
		return false
	}
	if f.Group != "" && f.Group != e.Group {
		return false
	}
	if f.Direction != "" && f.Direction != e.Direction {
		return false
	}
	if f.Currency != "" && f.Currency != e.Currency {
		return false
	}
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	if f.Formula != "" && f.Formula != e.Formula {
		return false
	}
	if f.SeriesID != "" && f.SeriesID != e.SeriesID {
		return false
	}
	return true
}

// Apply copies every set field of p onto e.
func (p EntryPatch) Apply(e *LedgerEntry) {
	if p.Period != nil {
		e.Period = *p.Period
	}
	if p.Direction != nil {
		e.Direction = *p.Direction
	}
	if p.Group != nil {
		e.Group = *p.Group
	}
	if p.Label != nil {
		e.Label = *p.Label
	}
	if p.Account != nil {
		e.Account = *p.Account
	}
	if p.Installment != nil {
		e.Installment = *p.Installment
	}
	if p.SeriesID != nil {
		e.SeriesID = *p.SeriesID
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Formula != nil {
		e.Formula = *p.Formula
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		e.Currency = *p.Currency
	}
	if p.PaymentMethod != nil {
		e.PaymentMethod = *p.PaymentMethod
	}
	if p.DueDate != nil {
		e.DueDate = *p.DueDate
	}
	if p.Paid != nil {
		e.Paid = *p.Paid
	}
}

// IsEmpty reports whether the patch changes nothing.
func (p EntryPatch) IsEmpty() bool {
	return p == EntryPatch{}
}

// ResolveKind maps a label onto its entry kind. reserved maps upper-cased
// formula labels to formula ids; carryLabel is the carry-forward label.
func ResolveKind(label, carryLabel string, reserved map[string]string) (EntryKind, string) {
	norm := strings.ToUpper(strings.TrimSpace(label))
	if norm == strings.ToUpper(carryLabel) {
		return KindCarryForward, ""
	}
	if id, ok := reserved[norm]; ok {
		return KindFormula, id
	}
	return KindPlain, ""
}
