package models

// OrderStatus is the fulfillment status of a patient order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusPacked         OrderStatus = "packed"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out-for-delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusReturned       OrderStatus = "returned"
)

// AssignmentStatus is the lifecycle status of a sold package.
type AssignmentStatus string

const (
	AssignmentStatusActive    AssignmentStatus = "Active"
	AssignmentStatusCompleted AssignmentStatus = "Completed"
	AssignmentStatusCancelled AssignmentStatus = "Cancelled"
	AssignmentStatusExpired   AssignmentStatus = "Expired"
)

// PaymentStatus is tracked independently of fulfillment status.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Color is a presentation tag carried alongside a status.
type Color string

const (
	ColorYellow Color = "yellow"
	ColorBlue   Color = "blue"
	ColorPurple Color = "purple"
	ColorIndigo Color = "indigo"
	ColorOrange Color = "orange"
	ColorCyan   Color = "cyan"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorGray   Color = "gray"
)

// StatusInfo describes a status for display.
type StatusInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color Color  `json:"color"`
}

// OrderStatuses lists every order status in fulfillment order, branch
// statuses last.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// AssignmentStatuses lists every package assignment status.
var AssignmentStatuses = []AssignmentStatus{
	AssignmentStatusActive,
	AssignmentStatusCompleted,
	AssignmentStatusCancelled,
	AssignmentStatusExpired,
}

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusPacked,
		OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// Name returns the display name, e.g. "Out for Delivery".
func (s OrderStatus) Name() string {
	switch s {
	case OrderStatusPending:
		return "Pending"
	case OrderStatusConfirmed:
		return "Confirmed"
	case OrderStatusProcessing:
		return "Processing"
	case OrderStatusPacked:
		return "Packed"
	case OrderStatusShipped:
		return "Shipped"
	case OrderStatusOutForDelivery:
		return "Out for Delivery"
	case OrderStatusDelivered:
		return "Delivered"
	case OrderStatusCancelled:
		return "Cancelled"
	case OrderStatusReturned:
		return "Returned"
	default:
		return string(s)
	}
}

// Color returns the presentation tag. Unknown statuses are gray.
func (s OrderStatus) Color() Color {
	switch s {
	case OrderStatusPending:
		return ColorYellow
	case OrderStatusConfirmed:
		return ColorBlue
	case OrderStatusProcessing:
		return ColorPurple
	case OrderStatusPacked:
		return ColorIndigo
	case OrderStatusShipped:
		return ColorOrange
	case OrderStatusOutForDelivery:
		return ColorCyan
	case OrderStatusDelivered:
		return ColorGreen
	case OrderStatusCancelled:
		return ColorRed
	default:
		return ColorGray
	}
}

func (s OrderStatus) Info() StatusInfo {
	return StatusInfo{ID: string(s), Name: s.Name(), Color: s.Color()}
}

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusActive, AssignmentStatusCompleted, AssignmentStatusCancelled, AssignmentStatusExpired:
		return true
	default:
		return false
	}
}

func (s AssignmentStatus) Color() Color {
	switch s {
	case AssignmentStatusActive:
		return ColorBlue
	case AssignmentStatusCompleted:
		return ColorGreen
	case AssignmentStatusCancelled:
		return ColorRed
	default:
		return ColorGray
	}
}

func (s AssignmentStatus) Info() StatusInfo {
	return StatusInfo{ID: string(s), Name: string(s), Color: s.Color()}
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

func (s PaymentStatus) Color() Color {
	switch s {
	case PaymentStatusPending:
		return ColorYellow
	case PaymentStatusPaid:
		return ColorGreen
	case PaymentStatusFailed:
		return ColorRed
	default:
		return ColorGray
	}
}

func (s PaymentStatus) Info() StatusInfo {
	return StatusInfo{ID: string(s), Name: string(s), Color: s.Color()}
}
