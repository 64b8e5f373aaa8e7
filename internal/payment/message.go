package payment

import (
	"fmt"
	"time"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/signing"
)

// MessageDomain separates payment authorization digests from other hashes.
const MessageDomain = "packsale/payment/v1"

// Message returns the canonical object a signer attests to for a payment.
func Message(vendor core.Identity, order core.Order, p core.Payment) canonical.Object {
	return canonical.Object{
		"vendor": string(vendor),
		"order": canonical.Object{
			"sku":              order.SKU,
			"quantity":         order.Quantity,
			"currency":         order.Currency.String(),
			"total_price":      order.TotalPrice,
			"already_paid":     order.AlreadyPaid,
			"asset_recipient":  string(order.AssetRecipient),
			"change_recipient": string(order.ChangeRecipient),
		},
		"currency":   p.Currency.String(),
		"value":      p.Value,
		"nonce":      p.Nonce,
		"escrow_for": int64(p.EscrowFor / time.Second),
	}
}

// Digest returns the 32-byte digest that is signed and recovered.
func Digest(vendor core.Identity, order core.Order, p core.Payment) ([]byte, error) {
	return canonical.Digest(MessageDomain, Message(vendor, order, p))
}

// Params are the signer-chosen terms of a signed payment.
type Params struct {
	Value     int64
	Nonce     int64
	EscrowFor time.Duration
}

// SignPayment builds a StableCents payment for order signed by signer.
func SignPayment(signer signing.Signer, vendor core.Identity, order core.Order, params Params) (core.Payment, error) {
	p := core.Payment{
		Currency:  core.StableCents,
		Value:     params.Value,
		Nonce:     params.Nonce,
		EscrowFor: params.EscrowFor.Truncate(time.Second),
	}
	digest, err := Digest(vendor, order, p)
	if err != nil {
		return core.Payment{}, fmt.Errorf("sign payment: %w", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return core.Payment{}, fmt.Errorf("sign payment: %w", err)
	}
	p.Signature = sig
	return p, nil
}
