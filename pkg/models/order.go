package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"order_number"`
	PatientID       string         `json:"patient_id"`
	Status          OrderStatus    `json:"status"`
	Items           []OrderItem    `json:"items"`
	Pricing         Pricing        `json:"pricing"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	PaymentMethod   string         `json:"payment_method"`
	TrackingNumber  string         `json:"tracking_number,omitempty"`
	DeliveryAddress Address        `json:"delivery_address"`
	Notes           string         `json:"notes,omitempty"`
	StatusHistory   []StatusChange `json:"status_history"`
	Revision        int            `json:"revision"`
	CreatedAt       time.Time      `json:"created_at"`
}

type OrderItem struct {
	ProductRef string          `json:"product_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	ImageRef   string          `json:"image,omitempty"`
}

// Pricing is derived from the item list and is never edited by hand.
type Pricing struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
}

// Equal compares amounts by value.
func (p Pricing) Equal(o Pricing) bool {
	return p.Subtotal.Equal(o.Subtotal) &&
		p.Discount.Equal(o.Discount) &&
		p.DeliveryCharge.Equal(o.DeliveryCharge) &&
		p.Tax.Equal(o.Tax) &&
		p.Total.Equal(o.Total)
}

type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note"`
}

type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone,omitempty"`
}

// Version identifies the lifecycle position a record was read at, plus a
// revision counter that every save advances. A write is only accepted
// against the version it was derived from.
type Version struct {
	Status     string `json:"status"`
	HistoryLen int    `json:"history_len"`
	Revision   int    `json:"revision"`
}

// ETag renders v as a quoted "status/historyLen/revision" entity tag.
func (v Version) ETag() string {
	return strconv.Quote(v.Status + "/" + strconv.Itoa(v.HistoryLen) + "/" + strconv.Itoa(v.Revision))
}

func (v Version) String() string {
	return fmt.Sprintf("%s/%d/%d", v.Status, v.HistoryLen, v.Revision)
}

// ParseETag reads a tag produced by ETag. Weak tags are accepted.
func ParseETag(tag string) (Version, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	raw, err := strconv.Unquote(tag)
	if err != nil {
		return Version{}, fmt.Errorf("malformed version tag %s", tag)
	}
	rev, rest, ok := cutCounter(raw)
	if !ok {
		return Version{}, fmt.Errorf("malformed version tag %s", tag)
	}
	n, status, ok := cutCounter(rest)
	if !ok || status == "" {
		return Version{}, fmt.Errorf("malformed version tag %s", tag)
	}
	return Version{Status: status, HistoryLen: n, Revision: rev}, nil
}

// cutCounter splits a trailing "/n" off s.
func cutCounter(s string) (int, string, bool) {
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 {
		return 0, "", false
	}
	return n, s[:i], true
}

func (o Order) Version() Version {
	return Version{Status: string(o.Status), HistoryLen: len(o.StatusHistory), Revision: o.Revision}
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	return c
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
