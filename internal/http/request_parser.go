// Package http provides the JSON API over the ledger service.
//
// This file holds the helpers that turn request paths and bodies into
// domain values.
package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// errBadRequest marks malformed input that never reached the service.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid JSON: %v", err)
	}
	if dec.More() {
		return badRequest("invalid JSON: trailing data")
	}
	return nil
}

// amountField accepts a JSON number ("1234.56" semantics) or a string in
// the local format read by core.ParseAmount ("1.234,56").
type amountField struct {
	decimal.Decimal
	set bool
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d, err := core.ParseAmount(s)
		if err != nil {
			return err
		}
		a.Decimal, a.set = d, true
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return core.ErrInvalidAmount
	}
	a.Decimal, a.set = d, true
	return nil
}

func parsePeriods(tokens []string) ([]core.Period, error) {
	out := make([]core.Period, 0, len(tokens))
	for _, t := range tokens {
		p, err := core.ParsePeriodToken(t)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// pathPeriod reads the {period} path value.
func pathPeriod(r *http.Request) (core.Period, error) {
	return core.ParsePeriodToken(r.PathValue("period"))
}

// pathID reads the {id} path value.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func parseOptionalDate(s *string) (*core.Date, error) {
	if s == nil {
		return nil, nil
	}
	d, err := core.ParseDate(*s)
	if err != nil {
		return nil, badRequest("invalid date %q", *s)
	}
	return &d, nil
}

func optionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseDirection accepts the stored tokens and their English aliases.
func parseDirection(s string) (core.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(core.Income), "INCOME":
		return core.Income, nil
	case string(core.Expense), "EXPENSE":
		return core.Expense, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrInvalidDirection, s)
	}
}

func parseCurrency(s string) core.Currency {
	return core.Currency(strings.ToUpper(strings.TrimSpace(s)))
}
