package order

import "errors"

const Collection = "orders"

var (
	ErrNotFound    = errors.New("order not found")
	ErrInvalidDate = errors.New("invalid date")
)

type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusProcessing  Status = "processing"
	StatusShipped     Status = "shipped"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"

	// StatusAll disables the status filter of List.
	StatusAll Status = "all"
)

type Item struct {
	Name     string  `json:"name" validate:"required"`
	Quantity int     `json:"quantity" validate:"gte=1"`
	Price    float64 `json:"price" validate:"gte=0"`
}

// Order is the stored document. OrderDate and ExpectedShipDate are display
// strings in the shop's zh-TW format; CreatedAt is Unix milliseconds.
type Order struct {
	ID               string  `json:"id"`
	OrderNumber      string  `json:"orderNumber"`
	CustomerName     string  `json:"customerName"`
	Phone            string  `json:"phone,omitempty"`
	Address          string  `json:"address,omitempty"`
	Items            []Item  `json:"items"`
	Note             string  `json:"note,omitempty"`
	TotalAmount      float64 `json:"totalAmount"`
	Status           Status  `json:"status"`
	ExpectedShipDate *string `json:"expectedShipDate"`
	CreatedAt        int64   `json:"createdAt"`
	OrderDate        string  `json:"orderDate"`
	UserID           string  `json:"userId"`
}

type CreateInput struct {
	CustomerName     string  `json:"customerName" validate:"required,max=200"`
	Phone            string  `json:"phone" validate:"omitempty,max=40"`
	Address          string  `json:"address" validate:"omitempty,max=500"`
	Items            []Item  `json:"items" validate:"dive"`
	Note             string  `json:"note" validate:"omitempty,max=2000"`
	TotalAmount      float64 `json:"totalAmount" validate:"gte=0"`
	Status           Status  `json:"status" validate:"omitempty,oneof=unprocessed processing shipped completed cancelled"`
	ExpectedShipDate string  `json:"expectedShipDate"`
}

// UpdateInput merges the non-nil fields into the stored order.
type UpdateInput struct {
	CustomerName     *string  `json:"customerName" validate:"omitempty,min=1,max=200"`
	Phone            *string  `json:"phone" validate:"omitempty,max=40"`
	Address          *string  `json:"address" validate:"omitempty,max=500"`
	Items            *[]Item  `json:"items" validate:"omitempty,dive"`
	Note             *string  `json:"note" validate:"omitempty,max=2000"`
	TotalAmount      *float64 `json:"totalAmount" validate:"omitempty,gte=0"`
	Status           *Status  `json:"status" validate:"omitempty,oneof=unprocessed processing shipped completed cancelled"`
	ExpectedShipDate *string  `json:"expectedShipDate"`
}

// Filter narrows List. Dates are bounds on CreatedAt; a date-only bound
// covers the whole day in the shop time zone.
type Filter struct {
	Status    Status
	StartDate string
	EndDate   string
}
