package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/packsale/internal/core"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":    s.engine.QueueLen(),
		"last_seq": s.engine.Clock().Current(),
	})
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty, err := strconv.ParseInt(q.Get("quantity"), 10, 64)
	if err != nil {
		badRequest(w, fmt.Errorf("quantity: %w", err))
		return
	}
	order, native, err := s.engine.QuoteFor(chi.URLParam(r, "sku"), qty, core.Identity(q.Get("buyer")), core.Identity(q.Get("recipient")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteView{Order: order, Native: native})
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	var body PurchaseBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	req, err := body.Purchase()
	if err != nil {
		badRequest(w, err)
		return
	}
	rc, err := s.engine.Purchase(r.Context(), chi.URLParam(r, "sku"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPurchaseView(rc))
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Mint(r.Context(), chi.URLParam(r, "sku"), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewMintView(res))
}

func (s *Server) commitment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, err := s.engine.Commitment(r.Context(), chi.URLParam(r, "sku"), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) commitments(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Commitments(r.Context(), chi.URLParam(r, "sku"), core.Identity(r.URL.Query().Get("owner")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []core.Commitment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) purchaseChest(w http.ResponseWriter, r *http.Request) {
	var body PurchaseBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	req, err := body.Purchase()
	if err != nil {
		badRequest(w, err)
		return
	}
	rc, err := s.engine.PurchaseChest(r.Context(), chi.URLParam(r, "sku"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewChestPurchaseView(rc))
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) {
	var body OpenBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	c, err := s.engine.Open(r.Context(), chi.URLParam(r, "sku"), body.Owner, body.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) purchaseFor(w http.ResponseWriter, r *http.Request) {
	var body SaleBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	req, err := body.Request()
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.engine.PurchaseFor(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSaleView(res))
}

func (s *Server) escrow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := s.engine.Escrow(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := s.engine.ReleaseEscrow(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) cancelEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var body CancelBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	entry, err := s.engine.CancelEscrow(r.Context(), body.Actor, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) migrate(w http.ResponseWriter, r *http.Request) {
	var body MigrateBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.Migrate(r.Context(), body.Holder, body.Key); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Deliver(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

func (s *Server) capState(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Cap(r.Context(), chi.URLParam(r, "family"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	holder := core.Identity(chi.URLParam(r, "holder"))
	n, err := s.engine.Balance(r.Context(), token, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{Token: token, Holder: holder, Amount: n})
}

func (s *Server) funds(w http.ResponseWriter, r *http.Request) {
	holder := core.Identity(chi.URLParam(r, "holder"))
	native, err := s.engine.Funds(r.Context(), holder, core.Native)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cents, err := s.engine.Funds(r.Context(), holder, core.StableCents)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	moves, err := s.engine.FundMovements(r.Context(), holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewFundsView(holder, native, cents, moves))
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events(r.Context(), r.URL.Query().Get("flow"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewEventViews(events))
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Audit(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	var body PauseBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetPaused(r.Context(), body.Actor, body.Target, flag(body.Paused)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": body.Target, "paused": flag(body.Paused)})
}

func (s *Server) sellerApproval(w http.ResponseWriter, r *http.Request) {
	var body SellerBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetSellerApproval(r.Context(), body.Actor, body.Vendor, body.SKUs, flag(body.Approved)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendor": body.Vendor, "skus": body.SKUs, "approved": flag(body.Approved)})
}

func (s *Server) signerLimit(w http.ResponseWriter, r *http.Request) {
	var body SignerLimitBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetSignerLimit(r.Context(), body.Actor, body.Signer, body.Limit); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signer": body.Signer, "limit": body.Limit})
}

func (s *Server) minterApproval(w http.ResponseWriter, r *http.Request) {
	var body MinterBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetMinterApproval(r.Context(), body.Actor, body.Minter, flag(body.Approved)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"minter": body.Minter, "approved": flag(body.Approved)})
}

func (s *Server) custodian(w http.ResponseWriter, r *http.Request) {
	var body CustodianBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetCustodian(r.Context(), body.Actor, body.Address, flag(body.Custodian)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": body.Address, "custodian": flag(body.Custodian)})
}

func (s *Server) capUpdaters(w http.ResponseWriter, r *http.Request) {
	var body CapUpdaterBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.engine.SetCanUpdate(r.Context(), body.Actor, body.Addresses, flag(body.Allowed)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"addresses": body.Addresses, "allowed": flag(body.Allowed)})
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		badRequest(w, fmt.Errorf("invalid id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}
