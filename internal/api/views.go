package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/store"
)

// PaymentBody is the wire form of core.Payment.
type PaymentBody struct {
	// Currency is "native" (the default) or "usd_cents".
	Currency  string `json:"currency,omitempty"`
	Value     int64  `json:"value,omitempty"`
	Nonce     int64  `json:"nonce,omitempty"`
	EscrowFor string `json:"escrow_for,omitempty"` // e.g. "72h"
	Signature string `json:"signature,omitempty"`  // hex
}

// Payment converts b. A nil body is a native payment.
func (b *PaymentBody) Payment() (core.Payment, error) {
	if b == nil || b.Currency == "" {
		if b != nil && b.Signature != "" {
			return core.Payment{}, fmt.Errorf("payment: signature without currency")
		}
		return core.NativePayment(), nil
	}
	currency, err := core.ParseCurrency(b.Currency)
	if err != nil {
		return core.Payment{}, fmt.Errorf("payment: %w", err)
	}
	p := core.Payment{Currency: currency, Value: b.Value, Nonce: b.Nonce}
	if b.EscrowFor != "" {
		p.EscrowFor, err = time.ParseDuration(b.EscrowFor)
		if err != nil {
			return core.Payment{}, fmt.Errorf("payment.escrow_for: %w", err)
		}
	}
	if b.Signature != "" {
		p.Signature, err = hex.DecodeString(strings.TrimPrefix(b.Signature, "0x"))
		if err != nil {
			return core.Payment{}, fmt.Errorf("payment.signature: %w", err)
		}
	}
	return p, nil
}

// NewPaymentBody returns the wire form of p.
func NewPaymentBody(p core.Payment) PaymentBody {
	b := PaymentBody{Currency: p.Currency.String(), Value: p.Value, Nonce: p.Nonce}
	if p.EscrowFor > 0 {
		b.EscrowFor = p.EscrowFor.String()
	}
	if len(p.Signature) > 0 {
		b.Signature = hex.EncodeToString(p.Signature)
	}
	return b
}

// PurchaseBody buys packs or chests.
type PurchaseBody struct {
	Buyer     core.Identity `json:"buyer"`
	Recipient core.Identity `json:"recipient,omitempty"`
	Quantity  int64         `json:"quantity"`
	Referrer  core.Identity `json:"referrer,omitempty"`

	// Attached is the native value sent with a native payment.
	Attached int64        `json:"attached,omitempty"`
	Payment  *PaymentBody `json:"payment,omitempty"`
}

// Purchase converts b.
func (b PurchaseBody) Purchase() (payment.Purchase, error) {
	if b.Buyer.IsZero() {
		return payment.Purchase{}, fmt.Errorf("buyer is required")
	}
	p, err := b.Payment.Payment()
	if err != nil {
		return payment.Purchase{}, err
	}
	return payment.Purchase{
		Buyer:         b.Buyer,
		Recipient:     b.Recipient,
		Quantity:      b.Quantity,
		Payment:       p,
		AttachedValue: b.Attached,
		Referrer:      b.Referrer,
	}, nil
}

// OpenBody opens chests.
type OpenBody struct {
	Owner    core.Identity `json:"owner"`
	Quantity int64         `json:"quantity"`
}

// SaleLineBody is one line of a SaleBody.
type SaleLineBody struct {
	SKU      string       `json:"sku"`
	Quantity int64        `json:"quantity"`
	Payment  *PaymentBody `json:"payment,omitempty"`
}

// SaleBody is a multi-product purchase.
type SaleBody struct {
	Buyer       core.Identity  `json:"buyer"`
	Beneficiary core.Identity  `json:"beneficiary,omitempty"`
	Referrer    core.Identity  `json:"referrer,omitempty"`
	Attached    int64          `json:"attached,omitempty"`
	Lines       []SaleLineBody `json:"lines"`
}

// Request converts b.
func (b SaleBody) Request() (sale.Request, error) {
	if b.Buyer.IsZero() {
		return sale.Request{}, fmt.Errorf("buyer is required")
	}
	req := sale.Request{
		Buyer:         b.Buyer,
		Beneficiary:   b.Beneficiary,
		Referrer:      b.Referrer,
		AttachedValue: b.Attached,
	}
	for i, line := range b.Lines {
		p, err := line.Payment.Payment()
		if err != nil {
			return sale.Request{}, fmt.Errorf("lines[%d]: %w", i, err)
		}
		req.Lines = append(req.Lines, sale.Line{SKU: line.SKU, Quantity: line.Quantity, Payment: p})
	}
	return req, nil
}

// Admin request bodies. A nil flag means true.
type (
	PauseBody struct {
		Actor  core.Identity `json:"actor"`
		Target string        `json:"target"`
		Paused *bool         `json:"paused,omitempty"`
	}

	SellerBody struct {
		Actor    core.Identity `json:"actor"`
		Vendor   core.Identity `json:"vendor"`
		SKUs     []string      `json:"skus"`
		Approved *bool         `json:"approved,omitempty"`
	}

	SignerLimitBody struct {
		Actor  core.Identity `json:"actor"`
		Signer core.Identity `json:"signer"`
		Limit  int64         `json:"limit"`
	}

	MinterBody struct {
		Actor    core.Identity `json:"actor"`
		Minter   core.Identity `json:"minter"`
		Approved *bool         `json:"approved,omitempty"`
	}

	CustodianBody struct {
		Actor     core.Identity `json:"actor"`
		Address   core.Identity `json:"address"`
		Custodian *bool         `json:"custodian,omitempty"`
	}

	CapUpdaterBody struct {
		Actor     core.Identity   `json:"actor"`
		Addresses []core.Identity `json:"addresses"`
		Allowed   *bool           `json:"allowed,omitempty"`
	}

	CancelBody struct {
		Actor core.Identity `json:"actor"`
	}

	MigrateBody struct {
		Holder core.Identity `json:"holder"`
		Key    int64         `json:"key"`
	}
)

func flag(b *bool) bool {
	return b == nil || *b
}

// PaymentView describes an authorized payment.
type PaymentView struct {
	Currency string        `json:"currency"`
	Amount   int64         `json:"amount"`
	Signer   core.Identity `json:"signer,omitempty"`
	Escrow   *int64        `json:"escrow,omitempty"`
}

// NewPaymentView returns the view of a.
func NewPaymentView(a payment.Authorized) PaymentView {
	v := PaymentView{Currency: a.Currency.String(), Amount: a.Amount, Signer: a.Signer}
	if a.Escrowed() {
		id := a.EscrowID
		v.Escrow = &id
	}
	return v
}

// QuoteView prices an order in both currencies.
type QuoteView struct {
	Order  core.Order `json:"order"`
	Native int64      `json:"native"`
}

// PurchaseView is a settled pack purchase.
type PurchaseView struct {
	Commitment core.Commitment `json:"commitment"`
	Payment    PaymentView     `json:"payment"`
}

// NewPurchaseView returns the view of rc.
func NewPurchaseView(rc pack.Receipt) PurchaseView {
	return PurchaseView{Commitment: rc.Commitment, Payment: NewPaymentView(rc.Payment)}
}

// ChestPurchaseView is a settled chest purchase.
type ChestPurchaseView struct {
	Recipient core.Identity `json:"recipient"`
	Quantity  int64         `json:"quantity"`
	Balance   int64         `json:"balance"`
	Payment   PaymentView   `json:"payment"`
}

// NewChestPurchaseView returns the view of rc.
func NewChestPurchaseView(rc chest.Receipt) ChestPurchaseView {
	return ChestPurchaseView{Recipient: rc.Recipient, Quantity: rc.Quantity, Balance: rc.Balance, Payment: NewPaymentView(rc.Payment)}
}

// MintView is one fulfilled batch.
type MintView struct {
	Commitment      core.Commitment `json:"commitment"`
	Units           int64           `json:"units"`
	TicketsAllotted int64           `json:"tickets_allotted"`
	TicketsIssued   int64           `json:"tickets_issued"`
}

// NewMintView returns the view of res.
func NewMintView(res pack.MintResult) MintView {
	return MintView{Commitment: res.Commitment, Units: res.Units, TicketsAllotted: res.TicketsAllotted, TicketsIssued: res.TicketsIssued}
}

// SaleLineView is one settled sale line.
type SaleLineView struct {
	SKU      string      `json:"sku"`
	Quantity int64       `json:"quantity"`
	Ref      string      `json:"ref"`
	Payment  PaymentView `json:"payment"`
}

// SaleView is a settled multi-product purchase.
type SaleView struct {
	Lines          []SaleLineView `json:"lines"`
	NativeRequired int64          `json:"native_required"`
	Refund         int64          `json:"refund"`
}

// NewSaleView returns the view of res.
func NewSaleView(res sale.Result) SaleView {
	v := SaleView{Lines: make([]SaleLineView, 0, len(res.Lines)), NativeRequired: res.NativeRequired, Refund: res.Refund}
	for _, l := range res.Lines {
		v.Lines = append(v.Lines, SaleLineView{SKU: l.SKU, Quantity: l.Quantity, Ref: l.Ref, Payment: NewPaymentView(l.Payment)})
	}
	return v
}

// BalanceView is a fungible balance.
type BalanceView struct {
	Token  string        `json:"token"`
	Holder core.Identity `json:"holder"`
	Amount int64         `json:"amount"`
}

// MovementView is one fund movement.
type MovementView struct {
	ID       int64  `json:"id"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
	Ref      string `json:"ref,omitempty"`
}

// FundsView is everything settled to a holder.
type FundsView struct {
	Holder      core.Identity  `json:"holder"`
	Native      int64          `json:"native"`
	StableCents int64          `json:"usd_cents"`
	Movements   []MovementView `json:"movements"`
}

// NewFundsView returns the view of a holder's balances and movements.
func NewFundsView(holder core.Identity, native, cents int64, moves []store.FundMovement) FundsView {
	v := FundsView{Holder: holder, Native: native, StableCents: cents, Movements: make([]MovementView, 0, len(moves))}
	for _, m := range moves {
		v.Movements = append(v.Movements, MovementView{ID: m.ID, Currency: m.Currency.String(), Amount: m.Amount, Reason: m.Reason, Ref: m.Ref})
	}
	return v
}

// EventView is one logged event.
type EventView struct {
	ID      string          `json:"id"`
	Seq     int64           `json:"seq"`
	Flow    string          `json:"flow"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Digest  string          `json:"digest"`
}

// NewEventViews returns the views of events.
func NewEventViews(events []store.Event) []EventView {
	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		out = append(out, EventView{ID: ev.ID, Seq: ev.Seq, Flow: ev.FlowToken, Kind: ev.Kind, Payload: json.RawMessage(ev.Payload), Digest: ev.Digest})
	}
	return out
}
