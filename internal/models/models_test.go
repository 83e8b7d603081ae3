package models

import (
	"testing"
	"time"
)

func validDrink() Drink {
	return Drink{
		ID:                 1,
		Name:               "Pils",
		Category:           CategoryAlcoholic,
		Price:              250,
		BasePrice:          250,
		MinPrice:           180,
		MaxPrice:           400,
		ExpectedPopularity: 3,
		Gamma:              0.4,
		DeltaMax:           0.10,
	}
}

func TestDrinkValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Drink)
		wantErr bool
	}{
		{name: "valid drink", mutate: func(d *Drink) {}, wantErr: false},
		{name: "empty name", mutate: func(d *Drink) { d.Name = "" }, wantErr: true},
		{name: "unknown category", mutate: func(d *Drink) { d.Category = "soup" }, wantErr: true},
		{name: "inverted band", mutate: func(d *Drink) { d.MinPrice, d.MaxPrice = 400, 180 }, wantErr: true},
		{name: "price above band", mutate: func(d *Drink) { d.Price = 401 }, wantErr: true},
		{name: "base price below band", mutate: func(d *Drink) { d.BasePrice = 100 }, wantErr: true},
		{name: "negative popularity", mutate: func(d *Drink) { d.ExpectedPopularity = -1 }, wantErr: true},
		{name: "zero gamma", mutate: func(d *Drink) { d.Gamma = 0 }, wantErr: true},
		{name: "delta max of one", mutate: func(d *Drink) { d.DeltaMax = 1 }, wantErr: true},
		{name: "future lock change", mutate: func(d *Drink) { d.LockChangedAt = time.Now().Add(time.Hour) }, wantErr: true},
		{name: "price on band edge", mutate: func(d *Drink) { d.Price = 400 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDrink()
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Drink.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory("non_alcoholic"); err != nil || c != CategoryNonAlcoholic {
		t.Errorf("ParseCategory(non_alcoholic) = %q, %v", c, err)
	}
	if _, err := ParseCategory("spirits"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestSaleValidate(t *testing.T) {
	tests := []struct {
		name    string
		sale    Sale
		wantErr bool
	}{
		{name: "valid sale", sale: Sale{DrinkID: 1, Qty: 2, At: time.Now()}, wantErr: false},
		{name: "zero quantity", sale: Sale{DrinkID: 1, Qty: 0, At: time.Now()}, wantErr: true},
		{name: "missing drink", sale: Sale{Qty: 1, At: time.Now()}, wantErr: true},
		{name: "missing timestamp", sale: Sale{DrinkID: 1, Qty: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sale.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Sale.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPricePointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   PricePoint
		wantErr bool
	}{
		{
			name:    "valid tick point",
			point:   PricePoint{ID: "p-1", DrinkID: 1, Price: 250, At: time.Now(), Source: SourceTick},
			wantErr: false,
		},
		{
			name:    "empty ID",
			point:   PricePoint{DrinkID: 1, Price: 250, At: time.Now(), Source: SourceTick},
			wantErr: true,
		},
		{
			name:    "unknown source",
			point:   PricePoint{ID: "p-1", DrinkID: 1, Price: 250, At: time.Now(), Source: "guess"},
			wantErr: true,
		},
		{
			name:    "far future timestamp",
			point:   PricePoint{ID: "p-1", DrinkID: 1, Price: 250, At: time.Now().Add(time.Hour), Source: SourceManual},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("PricePoint.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCents(t *testing.T) {
	tests := []struct {
		in   float64
		want Cents
		str  string
	}{
		{1.30, 130, "1.30"},
		{0.125, 13, "0.13"},
		{0.05, 5, "0.05"},
		{-1.5, -150, "-1.50"},
	}
	for _, tt := range tests {
		got := CentsFromFloat(tt.in)
		if got != tt.want {
			t.Errorf("CentsFromFloat(%v) = %d, want %d", tt.in, got, tt.want)
		}
		if got.String() != tt.str {
			t.Errorf("Cents(%d).String() = %s, want %s", got, got.String(), tt.str)
		}
	}
	if f := Cents(250).Float(); f != 2.5 {
		t.Errorf("Cents(250).Float() = %v, want 2.5", f)
	}
}
