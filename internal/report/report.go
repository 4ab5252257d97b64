// Package report renders the tracked delinquencies and rating adjustments as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/lendwatch/reconciler/internal/delinquency"
	"github.com/lendwatch/reconciler/internal/domain"
)

const (
	SheetDelinquents = "Delinquents"
	SheetPortfolio   = "Portfolio"
)

// Data is what a report is built from.
type Data struct {
	GeneratedAt time.Time
	Delinquents []delinquency.Record
	Adjustments map[domain.Rating]decimal.Decimal
	Overview    domain.Overview
}

type column struct {
	Header string
	Value  func(row) interface{}
}

type row struct {
	rec     delinquency.Record
	episode delinquency.EpisodeRecord
	today   civil.Date
}

var delinquentColumns = []column{
	{"Investment", func(r row) interface{} { return r.rec.Investment.ID }},
	{"Loan", func(r row) interface{} { return r.rec.Investment.LoanID }},
	{"Loan name", func(r row) interface{} { return r.rec.Loan.Name }},
	{"Rating", func(r row) interface{} { return string(rating(r.rec)) }},
	{"Remaining principal", func(r row) interface{} { return r.rec.Investment.RemainingPrincipal.InexactFloat64() }},
	{"Payment missed", func(r row) interface{} { return r.episode.PaymentMissed.String() }},
	{"Fixed on", func(r row) interface{} {
		if r.episode.FixedOn == nil {
			return ""
		}
		return r.episode.FixedOn.String()
	}},
	{"Days", func(r row) interface{} {
		end := r.today
		if r.episode.FixedOn != nil {
			end = *r.episode.FixedOn
		}
		return end.DaysSince(r.episode.PaymentMissed)
	}},
}

func rating(r delinquency.Record) domain.Rating {
	if r.Investment.Rating != "" {
		return r.Investment.Rating
	}
	return r.Loan.Rating
}

// Write renders d as an XLSX workbook into w.
func Write(w io.Writer, d Data) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), SheetDelinquents)
	_ = f.SetDocProps(&excelize.DocProperties{
		Creator: "reconciler",
		Created: d.GeneratedAt.UTC().Format(time.RFC3339),
	})

	for i, col := range delinquentColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetDelinquents, cell, col.Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	today := civil.DateOf(d.GeneratedAt)
	rowIdx := 2
	for _, rec := range d.Delinquents {
		for _, ep := range rec.Episodes {
			r := row{rec: rec, episode: ep, today: today}
			for colIdx, col := range delinquentColumns {
				cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx)
				if err := f.SetCellValue(SheetDelinquents, cell, col.Value(r)); err != nil {
					return fmt.Errorf("write row %d: %w", rowIdx, err)
				}
			}
			rowIdx++
		}
	}

	if _, err := f.NewSheet(SheetPortfolio); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	headers := []interface{}{"Rating", "Invested", "Adjustment", "At risk"}
	if err := f.SetSheetRow(SheetPortfolio, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rowIdx = 2
	for _, r := range domain.Ratings {
		invested, adj, risk := d.Overview.Invested[r], d.Adjustments[r], d.Overview.AtRisk[r]
		if invested.IsZero() && adj.IsZero() && risk.IsZero() {
			continue
		}
		values := []interface{}{string(r), invested.InexactFloat64(), adj.InexactFloat64(), risk.InexactFloat64()}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
		if err := f.SetSheetRow(SheetPortfolio, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", rowIdx, err)
		}
		rowIdx++
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
