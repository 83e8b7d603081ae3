// Package report builds the end-of-night spreadsheet: the catalog with units
// sold and takings, the full sales ledger priced at the rate in effect when
// each sale was logged, and every recorded price point.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// Sheet names, in workbook order.
const (
	SheetDrinks = "Drinks"
	SheetSales  = "Sales"
	SheetPrices = "Prices"
)

// ContentType is the MIME type of the written workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timeLayout = "2006-01-02 15:04:05"

// Data is everything a report covers.
type Data struct {
	Drinks      []models.Drink
	Sales       []models.Sale
	History     map[int64][]models.PricePoint // oldest first per drink
	GeneratedAt time.Time
}

// DrinkTotals aggregates one drink's sales.
type DrinkTotals struct {
	Units   int
	Revenue models.Cents
}

// PriceAt returns the price a drink traded at when t happened: the last
// history point at or before t, or fallback when none precedes it.
func PriceAt(points []models.PricePoint, t time.Time, fallback models.Cents) models.Cents {
	i := sort.Search(len(points), func(i int) bool { return points[i].At.After(t) })
	if i == 0 {
		return fallback
	}
	return points[i-1].Price
}

// Totals sums units and takings per drink. Sales of drinks missing from the
// catalog are ignored.
func (d Data) Totals() map[int64]DrinkTotals {
	byID := make(map[int64]models.Drink, len(d.Drinks))
	for _, drink := range d.Drinks {
		byID[drink.ID] = drink
	}
	totals := make(map[int64]DrinkTotals, len(d.Drinks))
	for _, s := range d.Sales {
		drink, ok := byID[s.DrinkID]
		if !ok {
			continue
		}
		t := totals[s.DrinkID]
		t.Units += s.Qty
		t.Revenue += PriceAt(d.History[s.DrinkID], s.At, drink.BasePrice) * models.Cents(s.Qty)
		totals[s.DrinkID] = t
	}
	return totals
}

// Build lays the data out as a workbook. The caller closes the file.
func Build(d Data) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetDrinks); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetSales, SheetPrices} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	writers := []func(*excelize.File, int, Data) error{writeDrinks, writeSales, writePrices}
	for _, write := range writers {
		if err := write(f, header, d); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, d Data) error {
	f, err := Build(d)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// FileName names the report generated at t.
func FileName(t time.Time) string {
	return "tapmarket-" + t.UTC().Format("2006-01-02T1504") + ".xlsx"
}

func setRows(f *excelize.File, sheet string, header int, rows [][]interface{}, widths map[string]float64) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	for col, width := range widths {
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

func writeDrinks(f *excelize.File, header int, d Data) error {
	totals := d.Totals()
	rows := [][]interface{}{{
		"ID", "Name", "Category", "Base", "Min", "Max", "Current", "Locked", "Units", "Revenue",
	}}
	var units int
	var revenue models.Cents
	for _, drink := range d.Drinks {
		t := totals[drink.ID]
		units += t.Units
		revenue += t.Revenue
		rows = append(rows, []interface{}{
			drink.ID, drink.Name, string(drink.Category),
			drink.BasePrice.Float(), drink.MinPrice.Float(), drink.MaxPrice.Float(), drink.Price.Float(),
			drink.Locked, t.Units, t.Revenue.Float(),
		})
	}
	rows = append(rows, []interface{}{"", "Total", "", "", "", "", "", "", units, revenue.Float()})
	return setRows(f, SheetDrinks, header, rows, map[string]float64{"B": 24, "C": 16})
}

func writeSales(f *excelize.File, header int, d Data) error {
	byID := make(map[int64]models.Drink, len(d.Drinks))
	for _, drink := range d.Drinks {
		byID[drink.ID] = drink
	}
	rows := [][]interface{}{{"ID", "Time", "Drink ID", "Drink", "Qty", "Unit price", "Amount"}}
	for _, s := range d.Sales {
		drink, ok := byID[s.DrinkID]
		name := drink.Name
		unit := PriceAt(d.History[s.DrinkID], s.At, drink.BasePrice)
		if !ok {
			name = fmt.Sprintf("#%d", s.DrinkID)
			unit = 0
		}
		rows = append(rows, []interface{}{
			s.ID, s.At.Format(timeLayout), s.DrinkID, name, s.Qty,
			unit.Float(), (unit * models.Cents(s.Qty)).Float(),
		})
	}
	return setRows(f, SheetSales, header, rows, map[string]float64{"B": 20, "D": 24})
}

func writePrices(f *excelize.File, header int, d Data) error {
	rows := [][]interface{}{{"Drink ID", "Drink", "Time", "Price", "Source"}}
	for _, drink := range d.Drinks {
		for _, p := range d.History[drink.ID] {
			rows = append(rows, []interface{}{drink.ID, drink.Name, p.At.Format(timeLayout), p.Price.Float(), p.Source})
		}
	}
	return setRows(f, SheetPrices, header, rows, map[string]float64{"B": 24, "C": 20})
}
