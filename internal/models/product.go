package models

import "github.com/shopspring/decimal"

type Product struct {
	ProductID            int64           `json:"product_id"`
	Code                 string          `json:"code,omitempty"`
	Name                 string          `json:"name"`
	Price                decimal.Decimal `json:"price"`
	Discount             decimal.Decimal `json:"discount"`
	Stock                int             `json:"stock"`
	RequiresPrescription bool            `json:"requires_prescription"`
	Active               bool            `json:"active"`
}
