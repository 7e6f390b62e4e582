package http

import (
	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/services"
)

// Request bodies

type entryRequest struct {
	Period        string      `json:"period"`
	Direction     string      `json:"direction"`
	Group         string      `json:"group"`
	Label         string      `json:"label"`
	Account       string      `json:"account"`
	Installment   string      `json:"installment"`
	Amount        amountField `json:"amount"`
	Currency      string      `json:"currency"`
	PaymentMethod string      `json:"payment_method"`
	DueDate       string      `json:"due_date"`
	Paid          bool        `json:"paid"`
}

type entryPatchRequest struct {
	Period        *string      `json:"period"`
	Direction     *string      `json:"direction"`
	Group         *string      `json:"group"`
	Label         *string      `json:"label"`
	Account       *string      `json:"account"`
	Installment   *string      `json:"installment"`
	Amount        *amountField `json:"amount"`
	Currency      *string      `json:"currency"`
	PaymentMethod *string      `json:"payment_method"`
	DueDate       *string      `json:"due_date"`
	Paid          *bool        `json:"paid"`
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

type settleRequest struct {
	IDs           []int64 `json:"ids"`
	DueDate       *string `json:"due_date"`
	PaymentMethod *string `json:"payment_method"`
	Paid          *bool   `json:"paid"`
}

type replicateRequest struct {
	Labels  []string `json:"labels"`
	Targets []string `json:"targets"`
}

type cloneRequest struct {
	// Target is a single period; omitted means every other period of the year.
	Target *string `json:"target"`
}

type cascadeRequest struct {
	Period string `json:"period"`
}

type groupRequest struct {
	Name string `json:"name"`
}

// Response bodies

type entryResponse struct {
	ID            int64            `json:"id"`
	CreatedOn     core.Date        `json:"created_on"`
	Period        core.Period      `json:"period"`
	Direction     core.Direction   `json:"direction"`
	Group         string           `json:"group"`
	Label         string           `json:"label"`
	Account       string           `json:"account,omitempty"`
	Installment   core.Installment `json:"installment"`
	SeriesID      string           `json:"series_id,omitempty"`
	Kind          core.EntryKind   `json:"kind"`
	Formula       string           `json:"formula,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	AmountText    string           `json:"amount_text"` // "1.234,56"
	Currency      core.Currency    `json:"currency"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	DueDate       core.Date        `json:"due_date"`
	Paid          bool             `json:"paid"`
}

func toEntryResponse(e core.LedgerEntry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		CreatedOn:     e.CreatedOn,
		Period:        e.Period,
		Direction:     e.Direction,
		Group:         e.Group,
		Label:         e.Label,
		Account:       e.Account,
		Installment:   e.Installment,
		SeriesID:      e.SeriesID,
		Kind:          e.Kind,
		Formula:       e.Formula,
		Amount:        e.Amount,
		AmountText:    core.FormatAmount(e.Amount),
		Currency:      e.Currency,
		PaymentMethod: e.PaymentMethod,
		DueDate:       e.DueDate,
		Paid:          e.Paid,
	}
}

func toEntryResponses(entries []core.LedgerEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}

type totalsResponse struct {
	Currency core.Currency   `json:"currency"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
	Net      decimal.Decimal `json:"net"`
}

type summaryResponse struct {
	Period  core.Period      `json:"period"`
	Entries int              `json:"entries"`
	Paid    int              `json:"paid"`
	Totals  []totalsResponse `json:"totals"`
}

func toSummaryResponse(s core.PeriodSummary) summaryResponse {
	out := summaryResponse{Period: s.Period, Entries: s.Entries, Paid: s.Paid, Totals: []totalsResponse{}}
	for _, t := range s.Totals {
		out.Totals = append(out.Totals, totalsResponse(t))
	}
	return out
}

type cascadeResponse struct {
	Root      core.Period `json:"root"`
	Steps     int         `json:"steps"`
	Inserted  int         `json:"inserted"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Collapsed int         `json:"collapsed"`
	Skipped   string      `json:"skipped,omitempty"`
}

func toCascadeResponse(r services.CascadeResult) cascadeResponse {
	return cascadeResponse(r)
}

type propagationResponse struct {
	Installment core.Installment `json:"installment"`
	Created     []int64          `json:"created"`
	Updated     []int64          `json:"updated"`
	Pruned      []int64          `json:"pruned"`
	Periods     []core.Period    `json:"periods"`
	Truncated   bool             `json:"truncated"`
	Skipped     string           `json:"skipped,omitempty"`
}

type updateResponse struct {
	Entry       entryResponse       `json:"entry"`
	Propagation propagationResponse `json:"propagation"`
	Cascade     cascadeResponse     `json:"cascade"`
}

func toUpdateResponse(r services.UpdateResult) updateResponse {
	return updateResponse{
		Entry:       toEntryResponse(r.Entry),
		Propagation: propagationResponse(r.Propagation),
		Cascade:     toCascadeResponse(r.Cascade),
	}
}

type countResponse struct {
	Count int `json:"count"`
}

type createResponse struct {
	IDs []int64 `json:"ids"`
}
