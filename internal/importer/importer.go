// Package importer reads uploaded recipient lists.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const maxProductColumns = 4

var headerAliases = map[string]string{
	"email":       "customer_email",
	"name":        "customer_name",
	"customer":    "customer_name",
	"school":      "school_code",
	"id":          "record_id",
	"school_url":  "school_page",
	"school_link": "school_page",
}

// Parse picks the reader by file extension: .xlsx, or CSV for anything else.
func Parse(filename string, r io.Reader) ([]*model.Recipient, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	}
	return ParseCSV(r)
}

func ParseCSV(r io.Reader) ([]*model.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, appErrors.NewInvalidInput("unreadable CSV: %v", err)
	}
	return fromRows(rows)
}

// ParseXLSX reads the first sheet of a workbook.
func ParseXLSX(r io.Reader) ([]*model.Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, appErrors.NewInvalidInput("unreadable workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, appErrors.NewInvalidInput("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, appErrors.NewInvalidInput("read sheet %s: %v", sheets[0], err)
	}
	return fromRows(rows)
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	if canonical, ok := headerAliases[h]; ok {
		return canonical
	}
	return h
}

func fromRows(rows [][]string) ([]*model.Recipient, error) {
	if len(rows) == 0 {
		return nil, appErrors.NewInvalidInput("file is empty")
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		if name := normalizeHeader(h); name != "" {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	if _, ok := cols["customer_email"]; !ok {
		return nil, appErrors.NewMissingRequiredField("customer_email")
	}

	var out []*model.Recipient
	for _, row := range rows[1:] {
		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if blank(row) {
			continue
		}
		rec := &model.Recipient{
			RecordID:      cell("record_id"),
			CustomerEmail: cell("customer_email"),
			CustomerName:  cell("customer_name"),
			SchoolCode:    strings.ToUpper(cell("school_code")),
			SchoolName:    cell("school_name"),
			SchoolPage:    cell("school_page"),
			SchoolLogo:    cell("school_logo"),
		}
		for n := 1; n <= maxProductColumns; n++ {
			p := model.Product{
				Name:  cell(fmt.Sprintf("product_%d_name", n)),
				Link:  cell(fmt.Sprintf("product_%d_link", n)),
				Image: cell(fmt.Sprintf("product_%d_image", n)),
				Price: cell(fmt.Sprintf("product_%d_price", n)),
			}
			if p.Name != "" {
				rec.Products = append(rec.Products, p)
			}
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, appErrors.NewInvalidInput("file has a header but no recipients")
	}
	return out, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
