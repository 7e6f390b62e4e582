package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Installment is an "n of total" descriptor. The zero value means the entry
// is not part of a series.
type Installment struct {
	Current int
	Total   int
}

// ParseInstallment parses "current/total". An empty string is the zero
// Installment; anything else without that shape is ErrMalformedInstallment.
func ParseInstallment(s string) (Installment, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Installment{}, nil
	}
	cur, tot, ok := strings.Cut(s, "/")
	if !ok {
		return Installment{}, fmt.Errorf("%w: %q", ErrMalformedInstallment, s)
	}
	c, err := strconv.Atoi(strings.TrimSpace(cur))
	if err != nil {
		return Installment{}, fmt.Errorf("%w: %q", ErrMalformedInstallment, s)
	}
	t, err := strconv.Atoi(strings.TrimSpace(tot))
	if err != nil {
		return Installment{}, fmt.Errorf("%w: %q", ErrMalformedInstallment, s)
	}
	in := Installment{Current: c, Total: t}
	if err := in.Validate(); err != nil {
		return Installment{}, fmt.Errorf("%w: %q", err, s)
	}
	return in, nil
}

func (in Installment) IsZero() bool {
	return in.Current == 0 && in.Total == 0
}

// Validate enforces 1 <= current <= total.
func (in Installment) Validate() error {
	if in.Current < 1 || in.Total < 1 || in.Current > in.Total {
		return ErrMalformedInstallment
	}
	return nil
}

// Remaining is the number of installments after the current one.
func (in Installment) Remaining() int {
	if in.IsZero() {
		return 0
	}
	return in.Total - in.Current
}

func (in Installment) String() string {
	if in.IsZero() {
		return ""
	}
	return strconv.Itoa(in.Current) + "/" + strconv.Itoa(in.Total)
}

func (in Installment) MarshalText() ([]byte, error) {
	return []byte(in.String()), nil
}

func (in *Installment) UnmarshalText(b []byte) error {
	parsed, err := ParseInstallment(string(b))
	if err != nil {
		return err
	}
	*in = parsed
	return nil
}
