package pipeline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/akazanov/go-scrape-wb/models"
	"github.com/xuri/excelize/v2"
)

// sheetName matches what downstream spreadsheet users expect to open.
const sheetName = "data"

// XLSXWriter writes records into a single-sheet xlsx workbook. Rows are
// buffered in the workbook and land on disk when Close saves it.
type XLSXWriter struct {
	filename string
	file     *excelize.File
	nextRow  int
	rows     int
	mu       sync.Mutex
}

// NewXLSXWriter initialises the workbook and writes the header row.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("name xlsx sheet: %w", err)
	}

	headerRow := make([]any, len(header))
	for i, column := range header {
		headerRow[i] = column
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		f.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	return &XLSXWriter{
		filename: filename,
		file:     f,
		nextRow:  2,
	}, nil
}

// Write appends products to the workbook.
func (xw *XLSXWriter) Write(products []*models.Product) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, product := range products {
		var rating any
		if product.Rating.Valid {
			rating, _ = product.Rating.Decimal.Float64()
		}
		var sales any
		if product.SalesCount != nil {
			sales = *product.SalesCount
		}
		regular, _ := product.RegularPrice.Float64()
		discounted, _ := product.DiscountedPrice.Float64()

		row := []any{
			product.ID,
			product.Name,
			product.Brand,
			product.BrandID,
			product.URL,
			regular,
			discounted,
			rating,
			product.ReviewCount,
			sales,
			product.ScrapedAt.Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, xw.nextRow)
		if err != nil {
			return fmt.Errorf("xlsx cell for row %d: %w", xw.nextRow, err)
		}
		if err := xw.file.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", xw.nextRow, err)
		}
		xw.nextRow++
		xw.rows++
	}
	return nil
}

// Close saves the workbook to disk and releases it.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if err := xw.file.SaveAs(xw.filename); err != nil {
		xw.file.Close()
		return fmt.Errorf("save xlsx file: %w", err)
	}
	return xw.file.Close()
}

// Validate ensures rows were written and the saved file exists.
func (xw *XLSXWriter) Validate() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	if xw.rows == 0 {
		return fmt.Errorf("xlsx workbook has no data rows")
	}
	info, err := os.Stat(xw.filename)
	if err != nil {
		return fmt.Errorf("stat xlsx file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("xlsx file is empty")
	}
	return nil
}
