package http

import (
	"net/http"
	"sync/atomic"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/services"
)

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{"periods": s.ledger.Periods()}).Write(w)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	entries, err := s.ledger.ListPeriod(r.Context(), p)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"period":  p,
		"entries": toEntryResponses(entries),
	}).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	key := p.String()
	if sum, ok := s.summaryCache.Get(key); ok {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		log.FromContext(r.Context()).DebugContext(r.Context(), "Summary cache hit", log.FieldPeriod, key)
		NewJSONResponse().Data(toSummaryResponse(sum)).Write(w)
		return
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	gen := s.summaryCache.Generation()
	sum, err := s.ledger.Summarize(r.Context(), p)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	// A mutation that purged meanwhile may have made sum stale.
	s.summaryCache.SetIfGeneration(key, sum, gen)
	NewJSONResponse().Data(toSummaryResponse(sum)).Write(w)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	in, err := req.toNewEntry()
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	ids, err := s.ledger.CreateEntry(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(createResponse{IDs: ids}).Write(w)
}

func (req entryRequest) toNewEntry() (services.NewEntry, error) {
	p, err := core.ParsePeriodToken(req.Period)
	if err != nil {
		return services.NewEntry{}, err
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		return services.NewEntry{}, err
	}
	if !req.Amount.set {
		return services.NewEntry{}, badRequest("amount is required")
	}
	due, err := core.ParseDate(req.DueDate)
	if err != nil {
		return services.NewEntry{}, badRequest("invalid due date %q", req.DueDate)
	}
	return services.NewEntry{
		Period:        p,
		Direction:     dir,
		Group:         sanitizeInput(req.Group),
		Label:         sanitizeInput(req.Label),
		Account:       sanitizeInput(req.Account),
		Installment:   req.Installment,
		Amount:        req.Amount.Decimal,
		Currency:      parseCurrency(req.Currency),
		PaymentMethod: sanitizeInput(req.PaymentMethod),
		DueDate:       due,
		Paid:          req.Paid,
	}, nil
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var req entryPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	u, err := req.toEntryUpdate()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	res, err := s.ledger.UpdateEntry(r.Context(), id, u)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Data(toUpdateResponse(res)).Write(w)
}

func (req entryPatchRequest) toEntryUpdate() (services.EntryUpdate, error) {
	u := services.EntryUpdate{
		Group:         optionalString(req.Group),
		Label:         optionalString(req.Label),
		Account:       optionalString(req.Account),
		Installment:   req.Installment,
		PaymentMethod: optionalString(req.PaymentMethod),
		Paid:          req.Paid,
	}
	if req.Period != nil {
		p, err := core.ParsePeriodToken(*req.Period)
		if err != nil {
			return u, err
		}
		u.Period = &p
	}
	if req.Direction != nil {
		d, err := parseDirection(*req.Direction)
		if err != nil {
			return u, err
		}
		u.Direction = &d
	}
	if req.Amount != nil && req.Amount.set {
		a := req.Amount.Decimal
		u.Amount = &a
	}
	if req.Currency != nil {
		c := parseCurrency(*req.Currency)
		u.Currency = &c
	}
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		return u, err
	}
	u.DueDate = due
	return u, nil
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.ledger.DeleteEntry(r.Context(), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntries(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	n, err := s.ledger.DeleteEntries(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Data(countResponse{Count: n}).Write(w)
}

func (s *Server) handleSettleEntries(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpSettle, err)
		return
	}
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		writeError(w, r, log.OpSettle, err)
		return
	}
	n, err := s.ledger.SettleEntries(r.Context(), req.IDs, services.Settlement{
		DueDate:       due,
		PaymentMethod: optionalString(req.PaymentMethod),
		Paid:          req.Paid,
	})
	if err != nil {
		writeError(w, r, log.OpSettle, err)
		return
	}
	NewJSONResponse().Data(countResponse{Count: n}).Write(w)
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	model, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, log.OpReplicate, err)
		return
	}
	var req replicateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpReplicate, err)
		return
	}
	targets, err := parsePeriods(req.Targets)
	if err != nil {
		writeError(w, r, log.OpReplicate, err)
		return
	}
	n, err := s.ledger.ReplicateEntries(r.Context(), model, req.Labels, targets)
	if err != nil {
		writeError(w, r, log.OpReplicate, err)
		return
	}
	NewJSONResponse().Data(countResponse{Count: n}).Write(w)
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	src, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, log.OpClone, err)
		return
	}
	var req cloneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpClone, err)
		return
	}
	var dst *core.Period
	if req.Target != nil {
		p, err := core.ParsePeriodToken(*req.Target)
		if err != nil {
			writeError(w, r, log.OpClone, err)
			return
		}
		dst = &p
	}
	n, err := s.ledger.CloneMonth(r.Context(), src, dst)
	if err != nil {
		writeError(w, r, log.OpClone, err)
		return
	}
	NewJSONResponse().Data(countResponse{Count: n}).Write(w)
}

func (s *Server) handleCascade(w http.ResponseWriter, r *http.Request) {
	var req cascadeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCascade, err)
		return
	}
	p, err := core.ParsePeriodToken(req.Period)
	if err != nil {
		writeError(w, r, log.OpCascade, err)
		return
	}
	res, err := s.ledger.Cascade(r.Context(), p)
	if err != nil {
		writeError(w, r, log.OpCascade, err)
		return
	}
	NewJSONResponse().Data(toCascadeResponse(res)).Write(w)
}

func (s *Server) handleResumeCascades(w http.ResponseWriter, r *http.Request) {
	results, err := s.ledger.ResumeCascades(r.Context())
	if err != nil {
		writeError(w, r, log.OpResume, err)
		return
	}
	out := make([]cascadeResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toCascadeResponse(res))
	}
	NewJSONResponse().Data(map[string]any{"resumed": out}).Write(w)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.ledger.ListGroups(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	NewJSONResponse().Data(map[string]any{"groups": groups}).Write(w)
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	if err := s.ledger.AddGroup(r.Context(), sanitizeInput(req.Name)); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteGroup(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
