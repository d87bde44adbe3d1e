package xlsx

import (
	"fmt"
	"log/slog"
	"strings"

	"groupsync/lib/money"

	"github.com/xuri/excelize/v2"
)

// the first row of a product sheet is a banner, the second the header
const headerRow = 2

// product columns E..J
const (
	colTitle = 4 + iota
	colPrice
	colArea
	colLimit
	colValidity
	colNotes
)

type Row struct {
	// 1-based sheet row, for error messages
	Line     int
	Title    string
	Price    money.Price
	Area     string
	Limit    string
	Validity string
	Notes    string
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LoadRows reads product rows from the first sheet of a workbook.
// Rows without a title are skipped.
func LoadRows(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx: %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	var out []Row
	for i := headerRow; i < len(rows); i++ {
		title := cell(rows[i], colTitle)
		if title == "" {
			continue
		}
		price, err := money.ParsePrice(cell(rows[i], colPrice))
		if err != nil {
			slog.Warn("skipping row with invalid price", "line", i+1, "title", title, "err", err)
			continue
		}
		out = append(out, Row{
			Line:     i + 1,
			Title:    title,
			Price:    price,
			Area:     cell(rows[i], colArea),
			Limit:    cell(rows[i], colLimit),
			Validity: cell(rows[i], colValidity),
			Notes:    cell(rows[i], colNotes),
		})
	}
	return out, nil
}

type PlanRow struct {
	Store       string
	Action      string
	OwnID       string
	OwnName     string
	OwnPrice    string
	RefTitle    string
	RefPrice    string
	RefOriginal string
	Reason      string
}

var planHeader = []any{"门店", "操作", "抖音ID", "抖音名称", "抖音售价", "美团标题", "美团售价", "美团原价", "原因"}

const planSheet = "计划"

// WritePlan writes a reconciliation report workbook.
func WritePlan(path string, rows []PlanRow) error {
	f := excelize.NewFile()
	defer f.Close()

	err := f.SetSheetName("Sheet1", planSheet)
	if err != nil {
		return err
	}
	err = f.SetSheetRow(planSheet, "A1", &planHeader)
	if err != nil {
		return err
	}
	for i, r := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.Store, r.Action, r.OwnID, r.OwnName, r.OwnPrice, r.RefTitle, r.RefPrice, r.RefOriginal, r.Reason}
		err = f.SetSheetRow(planSheet, cellName, &values)
		if err != nil {
			return err
		}
	}
	err = f.SetColWidth(planSheet, "D", "F", 32)
	if err != nil {
		return err
	}
	return f.SaveAs(path)
}
