package models

import "time"

// Alert records a qualifying price drop. ProductName is copied at creation
// so the alert stays readable after the product is edited or deleted.
type Alert struct {
	ID            string    `json:"id" db:"id"`
	ProductID     string    `json:"productId" db:"product_id"`
	ProductName   string    `json:"productName" db:"product_name"`
	Source        Source    `json:"source" db:"source"`
	OldPrice      float64   `json:"oldPrice" db:"old_price"`
	NewPrice      float64   `json:"newPrice" db:"new_price"`
	PercentChange float64   `json:"percentChange" db:"percent_change"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
