package core

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"time"
)

// Identity is an account address (buyer, seller, signer, vendor, custodian).
// The empty string is the zero identity.
type Identity string

// Zero is the zero identity, used for "no referrer" and "no recipient".
const Zero Identity = ""

// IsZero reports whether id is the zero identity.
func (id Identity) IsZero() bool {
	return id == Zero
}

// Currency identifies the unit an amount is denominated in.
type Currency int

const (
	// Native is the settlement asset attached directly to a call.
	Native Currency = iota
	// StableCents is a stable unit (USD cents) priced off-chain.
	StableCents
)

// String returns the text form used in config files, storage and JSON.
func (c Currency) String() string {
	switch c {
	case Native:
		return "native"
	case StableCents:
		return "usd_cents"
	default:
		return fmt.Sprintf("currency(%d)", int(c))
	}
}

// ParseCurrency parses the text form of a Currency.
func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "native", "eth":
		return Native, nil
	case "usd_cents", "usd":
		return StableCents, nil
	default:
		return 0, fmt.Errorf("unknown currency %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Currency) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Currency) UnmarshalText(b []byte) error {
	v, err := ParseCurrency(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Order is the priced request a payment must cover.
//
// TotalPrice and AlreadyPaid are denominated in Currency. Due() is the amount the
// payment has to authorize.
type Order struct {
	SKU             string   `json:"sku"`
	Quantity        int64    `json:"quantity"`
	Currency        Currency `json:"currency"`
	TotalPrice      int64    `json:"total_price"`
	AlreadyPaid     int64    `json:"already_paid"`
	AssetRecipient  Identity `json:"asset_recipient"`
	ChangeRecipient Identity `json:"change_recipient"`
}

// Due returns TotalPrice - AlreadyPaid.
func (o Order) Due() int64 {
	return o.TotalPrice - o.AlreadyPaid
}

// MulAmount returns a*b for non-negative operands, or false when either is
// negative or the product does not fit in an int64.
func MulAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// Payment authorizes an Order.
//
// A Native payment carries no signature and is validated by attached value alone.
// A StableCents payment must carry a signature from a signer with a configured limit.
type Payment struct {
	Currency  Currency      `json:"currency"`
	Value     int64         `json:"value"`
	Nonce     int64         `json:"nonce"`
	EscrowFor time.Duration `json:"escrow_for"`
	Signature []byte        `json:"signature,omitempty"`
}

// NativePayment returns a payment settled by attached value.
func NativePayment() Payment {
	return Payment{Currency: Native}
}

// Commitment is a durable record of paid-for, not yet fulfilled units.
//
// Invariant: 0 <= FulfilledCount <= ProductQuantity and
// 0 <= TicketsAllotted <= TicketQuantity.
//
// EscrowID is set when the purchase was paid into escrow; units and tickets
// minted while that escrow is not released go to EscrowHolder(*EscrowID).
type Commitment struct {
	SKU             string    `json:"sku"`
	ID              int64     `json:"id"`
	Owner           Identity  `json:"owner"`
	ProductQuantity int64     `json:"product_quantity"`
	TicketQuantity  int64     `json:"ticket_quantity"`
	TicketsAllotted int64     `json:"tickets_allotted"`
	FulfilledCount  int64     `json:"fulfilled_count"`
	EscrowID        *int64    `json:"escrow_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Remaining returns the number of units still owed.
func (c Commitment) Remaining() int64 {
	return c.ProductQuantity - c.FulfilledCount
}

// Fulfilled reports whether the commitment is terminal.
func (c Commitment) Fulfilled() bool {
	return c.FulfilledCount == c.ProductQuantity
}

// CapState tracks issuance of one product family. Issued never exceeds Capacity.
type CapState struct {
	Family   string `json:"family"`
	Issued   int64  `json:"issued"`
	Capacity int64  `json:"capacity"`
}

// Available returns the number of units that can still be issued.
func (c CapState) Available() int64 {
	return c.Capacity - c.Issued
}

// EscrowState is the lifecycle state of an EscrowEntry.
type EscrowState string

const (
	EscrowOpen      EscrowState = "open"
	EscrowReleased  EscrowState = "released"
	EscrowCancelled EscrowState = "cancelled"
)

// EscrowEntry holds settlement funds until ReleaseAt, and custody of the
// assets bought with them until it is released to Beneficiary.
type EscrowEntry struct {
	ID          int64       `json:"id"`
	Payer       Identity    `json:"payer"`
	Seller      Identity    `json:"seller"`
	Referrer    Identity    `json:"referrer,omitempty"`
	Beneficiary Identity    `json:"beneficiary,omitempty"`
	Currency    Currency    `json:"currency"`
	Amount      int64       `json:"amount"`
	ReleaseAt   time.Time   `json:"release_at"`
	State       EscrowState `json:"state"`
}

// EscrowHolder is the custody identity holding assets of escrow entry id.
func EscrowHolder(id int64) Identity {
	return Identity("escrow:" + strconv.FormatInt(id, 10))
}

// Well-known fungible token names held in the balances table.
const (
	TokenRaffle = "raffle"
)

// ChestToken returns the balance token name for a chest SKU.
func ChestToken(sku string) string {
	return "chest:" + sku
}
