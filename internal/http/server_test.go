package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/formula"
	"saldo/internal/services"
	"saldo/internal/storage"
	"saldo/internal/storage/memory"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New(storage.DefaultGroups)
	seq := core.MustGenerateSequence(2026, 2026)
	ledger := services.NewLedgerService(store, seq, formula.DefaultCatalog(seq), services.DefaultLedgerConfig(), nil)
	ledger.SetClock(func() time.Time { return time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC) })

	srv := NewServer(cfg, ledger)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func createEntry(t *testing.T, srv *Server, body map[string]any) []int64 {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/entries", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create entry: status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[createResponse](t, rr).IDs
}

func seedLedger(t *testing.T, srv *Server) (salary int64, rent []int64) {
	t.Helper()
	ids := createEntry(t, srv, map[string]any{
		"period": "2026-01", "direction": "income", "group": "VARIOS",
		"label": "Sueldo", "amount": 1000, "currency": "ARS",
	})
	rent = createEntry(t, srv, map[string]any{
		"period": "Enero 2026", "direction": "GASTO", "group": "CASA",
		"label": "Alquiler", "amount": "400", "currency": "ars", "installment": "1/3",
	})
	return ids[0], rent
}

func netOf(t *testing.T, s summaryResponse, cur core.Currency) decimal.Decimal {
	t.Helper()
	for _, tot := range s.Totals {
		if tot.Currency == cur {
			return tot.Net
		}
	}
	return decimal.Zero
}

func TestHealthReadyMetrics(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s content-type=%q", path, ct)
		}
	}

	rr := do(t, srv, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "saldo_http_requests_total") {
		t.Errorf("metrics body missing request counter: %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on every response")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestListPeriods(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))

	rr := do(t, srv, http.MethodGet, "/api/periods", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	got := decode[struct {
		Periods []core.Period `json:"periods"`
	}](t, rr)
	if len(got.Periods) != 12 {
		t.Fatalf("got %d periods, want 12", len(got.Periods))
	}
	if got.Periods[0] != core.NewPeriod(2026, time.January) {
		t.Errorf("first period = %v", got.Periods[0])
	}
}

func TestCreateEntryExpandsInstallmentsAndCascades(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))
	_, rent := seedLedger(t, srv)
	if len(rent) != 3 {
		t.Fatalf("rent ids = %v, want 3 installments", rent)
	}

	rr := do(t, srv, http.MethodGet, "/api/periods/2026-03/entries", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	list := decode[struct {
		Entries []entryResponse `json:"entries"`
	}](t, rr)

	var sawRent, sawCarry bool
	for _, e := range list.Entries {
		switch e.Kind {
		case core.KindCarryForward:
			sawCarry = true
			// January nets 600, February carries it and pays 400 more.
			if !e.Amount.Equal(decimal.NewFromInt(200)) {
				t.Errorf("March carry = %s, want 200", e.Amount)
			}
		case core.KindPlain:
			if e.Label == "Alquiler" {
				sawRent = true
				if e.Installment.String() != "3/3" {
					t.Errorf("March rent installment = %s, want 3/3", e.Installment)
				}
			}
		}
	}
	if !sawRent || !sawCarry {
		t.Errorf("March entries missing rent (%v) or carry (%v): %+v", sawRent, sawCarry, list.Entries)
	}
}

func TestCreateEntryLocalAmountFormat(t *testing.T) {
	srv, store := newTestServer(t, DefaultServerConfig(":0"))
	ids := createEntry(t, srv, map[string]any{
		"period": "2026-05", "direction": "GASTO", "group": "AUTO",
		"label": "Seguro", "amount": "1.234,50", "currency": "ARS",
	})

	e, err := store.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !e.Amount.Equal(decimal.RequireFromString("1234.5")) {
		t.Errorf("amount = %s, want 1234.5", e.Amount)
	}

	rr := do(t, srv, http.MethodGet, "/api/periods/2026-05/entries", nil)
	list := decode[struct {
		Entries []entryResponse `json:"entries"`
	}](t, rr)
	for _, got := range list.Entries {
		if got.ID == ids[0] && got.AmountText != "1.234,50" {
			t.Errorf("amount_text = %q, want 1.234,50", got.AmountText)
		}
	}
}

func TestCreateEntryValidation(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"period":`},
		{"unknown field", map[string]any{"period": "2026-01", "color": "red"}},
		{"unknown period", map[string]any{"period": "2040-01", "direction": "GASTO", "group": "CASA", "label": "x", "amount": 1, "currency": "ARS"}},
		{"bad direction", map[string]any{"period": "2026-01", "direction": "sideways", "group": "CASA", "label": "x", "amount": 1, "currency": "ARS"}},
		{"missing amount", map[string]any{"period": "2026-01", "direction": "GASTO", "group": "CASA", "label": "x", "currency": "ARS"}},
		{"bad amount", map[string]any{"period": "2026-01", "direction": "GASTO", "group": "CASA", "label": "x", "amount": "abc", "currency": "ARS"}},
		{"empty label", map[string]any{"period": "2026-01", "direction": "GASTO", "group": "CASA", "label": " ", "amount": 1, "currency": "ARS"}},
		{"bad installment", map[string]any{"period": "2026-01", "direction": "GASTO", "group": "CASA", "label": "x", "amount": 1, "currency": "ARS", "installment": "4/3"}},
		{"unsupported currency", map[string]any{"period": "2026-01", "direction": "GASTO", "group": "CASA", "label": "x", "amount": 1, "currency": "EUR"}},
		{"carry-forward label", map[string]any{"period": "2026-02", "direction": "GANANCIA", "group": "AHORRO MANUEL", "label": "Ahorro Mes Anterior", "amount": 500, "currency": "ARS"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/entries", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s, want 400", rr.Code, rr.Body.String())
			}
			body := decode[errorBody](t, rr)
			if body.Error == "" || body.Status != http.StatusBadRequest {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestUpdateEntry(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))
	_, rent := seedLedger(t, srv)

	rr := do(t, srv, http.MethodPut, "/api/entries/"+strconv.FormatInt(rent[0], 10), map[string]any{"amount": 500})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[updateResponse](t, rr)
	if !res.Entry.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("updated amount = %s, want 500", res.Entry.Amount)
	}

	rr = do(t, srv, http.MethodGet, "/api/periods/2026-02/summary", nil)
	sum := decode[summaryResponse](t, rr)
	// February: carry 500 (1000-500) minus rent 400.
	if got := netOf(t, sum, "ARS"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("February net = %s, want 100", got)
	}
}

func TestUpdateEntryErrors(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))

	if rr := do(t, srv, http.MethodPut, "/api/entries/999", map[string]any{"paid": true}); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id status=%d, want 404", rr.Code)
	}
	if rr := do(t, srv, http.MethodPut, "/api/entries/abc", map[string]any{"paid": true}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status=%d, want 400", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/entries/999", nil); rr.Code != http.StatusNotFound {
		t.Errorf("delete unknown status=%d, want 404", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/entries/1", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET entry status=%d, want 405", rr.Code)
	}
}

func TestSummaryCacheIsPurgedOnMutation(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))
	seedLedger(t, srv)

	first := decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/periods/2026-01/summary", nil))
	do(t, srv, http.MethodGet, "/api/periods/2026-01/summary", nil)
	if srv.appMetrics.cacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", srv.appMetrics.cacheHits)
	}
	if got := netOf(t, first, "ARS"); !got.Equal(decimal.NewFromInt(600)) {
		t.Errorf("January net = %s, want 600", got)
	}

	createEntry(t, srv, map[string]any{
		"period": "2026-01", "direction": "GASTO", "group": "VARIOS",
		"label": "Super", "amount": 100, "currency": "ARS",
	})
	if srv.summaryCache.Size() != 0 {
		t.Fatalf("cache size after mutation = %d, want 0", srv.summaryCache.Size())
	}

	second := decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/periods/2026-01/summary", nil))
	if got := netOf(t, second, "ARS"); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("January net after mutation = %s, want 500", got)
	}
}

func TestBulkOperations(t *testing.T) {
	srv, store := newTestServer(t, DefaultServerConfig(":0"))
	salary, rent := seedLedger(t, srv)
	ctx := context.Background()

	rr := do(t, srv, http.MethodPost, "/api/entries/settle", map[string]any{"ids": []int64{salary}, "paid": true, "payment_method": "Transferencia"})
	if rr.Code != http.StatusOK || decode[countResponse](t, rr).Count != 1 {
		t.Fatalf("settle: status=%d body=%s", rr.Code, rr.Body.String())
	}
	e, _ := store.Get(ctx, salary)
	if !e.Paid || e.PaymentMethod != "Transferencia" {
		t.Errorf("settled entry = %+v", e)
	}

	rr = do(t, srv, http.MethodPost, "/api/periods/2026-01/replicate", map[string]any{"labels": []string{"Alquiler"}, "targets": []string{"2026-06", "Julio 2026"}})
	if rr.Code != http.StatusOK || decode[countResponse](t, rr).Count != 2 {
		t.Fatalf("replicate: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/api/periods/2026-01/clone", map[string]any{"target": "2026-12"})
	if rr.Code != http.StatusOK || decode[countResponse](t, rr).Count != 2 {
		t.Fatalf("clone: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/api/periods/2026-01/clone", map[string]any{"target": "2026-01"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("clone onto itself status=%d, want 400", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/api/entries/delete", map[string]any{"ids": rent[1:]})
	if rr.Code != http.StatusOK || decode[countResponse](t, rr).Count != 2 {
		t.Fatalf("bulk delete: status=%d body=%s", rr.Code, rr.Body.String())
	}

	if rr := do(t, srv, http.MethodDelete, "/api/entries/"+strconv.FormatInt(rent[0], 10), nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete status=%d, want 204", rr.Code)
	}
	if n, _ := store.Count(ctx, core.Filter{Label: "Alquiler", Period: core.NewPeriod(2026, time.January)}); n != 0 {
		t.Errorf("January rent still present: %d", n)
	}
}

func TestCascadeEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))
	seedLedger(t, srv)

	rr := do(t, srv, http.MethodPost, "/api/cascade", map[string]any{"period": "2026-01"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cascade status=%d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[cascadeResponse](t, rr)
	if res.Root != core.NewPeriod(2026, time.January) || res.Steps == 0 {
		t.Errorf("cascade result = %+v", res)
	}

	if rr := do(t, srv, http.MethodPost, "/api/cascade", map[string]any{"period": "someday"}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad period status=%d, want 400", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/api/cascade/resume", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status=%d", rr.Code)
	}
	resumed := decode[struct {
		Resumed []cascadeResponse `json:"resumed"`
	}](t, rr)
	if len(resumed.Resumed) != 0 {
		t.Errorf("nothing pending, got %+v", resumed.Resumed)
	}
}

func TestGroups(t *testing.T) {
	srv, _ := newTestServer(t, DefaultServerConfig(":0"))

	if rr := do(t, srv, http.MethodPost, "/api/groups", map[string]any{"name": "viajes"}); rr.Code != http.StatusNoContent {
		t.Fatalf("add group status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/groups", map[string]any{"name": "  "}); rr.Code != http.StatusBadRequest {
		t.Errorf("empty group status=%d, want 400", rr.Code)
	}

	groups := decode[struct {
		Groups []string `json:"groups"`
	}](t, do(t, srv, http.MethodGet, "/api/groups", nil))
	found := false
	for _, g := range groups.Groups {
		found = found || g == "VIAJES"
	}
	if !found {
		t.Errorf("groups = %v, want VIAJES", groups.Groups)
	}

	if rr := do(t, srv, http.MethodDelete, "/api/groups/VIAJES", nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete group status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/groups/VIAJES", nil); rr.Code != http.StatusNotFound {
		t.Errorf("delete missing group status=%d, want 404", rr.Code)
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	cfg := DefaultServerConfig(":0")
	cfg.MutationsPerMinute = 2
	srv, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPost, "/api/groups", map[string]any{"name": "g" + strconv.Itoa(i)}); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodPost, "/api/groups", map[string]any{"name": "g3"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rr := do(t, srv, http.MethodGet, "/api/groups", nil); rr.Code != http.StatusOK {
		t.Errorf("reads are not limited, got %d", rr.Code)
	}
}
