package reconcile

import (
	"sort"

	"github.com/google/uuid"
	"github.com/routebooks/api/internal/enum"
	"github.com/shopspring/decimal"
)

// LoadedItem is one product line of the morning loading declaration.
type LoadedItem struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
}

// ReturnedItem is one product line of the end-of-shift return declaration.
type ReturnedItem struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
}

// SaleLine is one line item of a sale.
type SaleLine struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
}

// SaleInput is one sale record as the aggregator sees it.
type SaleInput struct {
	PaymentType string
	Lines       []SaleLine
}

// Totals holds the per-payment-type sales value sums for one driver-day.
type Totals struct {
	Cash   decimal.Decimal
	Credit decimal.Decimal
	Other  decimal.Decimal
}

// ProductRow is the computed loaded/sold/returned/loss figure for one
// product. Loss may be negative; it is surfaced, never clamped.
type ProductRow struct {
	ProductID   uuid.UUID
	ProductName string
	Loaded      int32
	Sold        int32
	Returned    int32
	Loss        int32
	Anomalous   bool
}

// Summary is the aggregator's full output for one driver-day.
type Summary struct {
	Totals Totals
	Rows   []ProductRow
}

// SaleTotal computes a sale's value as the sum of its line totals.
func SaleTotal(lines []SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt32(line.Quantity)))
	}
	return total
}

// Aggregate combines the three already-resolved source logs into summary
// totals and per-product rows. It is a pure function: no I/O, and identical
// inputs always produce identical output (rows sorted by product name, then
// ID, so repeated invocations render byte-identically).
func Aggregate(loaded []LoadedItem, sales []SaleInput, returned []ReturnedItem) Summary {
	totals := Totals{
		Cash:   decimal.Zero,
		Credit: decimal.Zero,
		Other:  decimal.Zero,
	}

	type figures struct {
		name                   string
		loaded, sold, returned int32
	}
	byProduct := make(map[uuid.UUID]*figures)

	get := func(id uuid.UUID, name string) *figures {
		f, ok := byProduct[id]
		if !ok {
			f = &figures{name: name}
			byProduct[id] = f
		}
		if f.name == "" {
			f.name = name
		}
		return f
	}

	for _, li := range loaded {
		get(li.ProductID, li.ProductName).loaded += li.Quantity
	}

	for _, sale := range sales {
		total := SaleTotal(sale.Lines)
		switch sale.PaymentType {
		case enum.PaymentTypeCash:
			totals.Cash = totals.Cash.Add(total)
		case enum.PaymentTypeCredit:
			totals.Credit = totals.Credit.Add(total)
		default:
			totals.Other = totals.Other.Add(total)
		}
		for _, line := range sale.Lines {
			get(line.ProductID, line.ProductName).sold += line.Quantity
		}
	}

	for _, ri := range returned {
		get(ri.ProductID, ri.ProductName).returned += ri.Quantity
	}

	rows := make([]ProductRow, 0, len(byProduct))
	for id, f := range byProduct {
		loss := f.loaded - f.sold - f.returned
		rows = append(rows, ProductRow{
			ProductID:   id,
			ProductName: f.name,
			Loaded:      f.loaded,
			Sold:        f.sold,
			Returned:    f.returned,
			Loss:        loss,
			Anomalous:   loss < 0 || (f.loaded == 0 && (f.sold > 0 || f.returned > 0)),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProductName != rows[j].ProductName {
			return rows[i].ProductName < rows[j].ProductName
		}
		return rows[i].ProductID.String() < rows[j].ProductID.String()
	})

	return Summary{Totals: totals, Rows: rows}
}
