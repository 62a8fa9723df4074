package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/akazanov/go-scrape-wb/models"
)

// DualWriter persists records as CSV and XLSX simultaneously.
type DualWriter struct {
	csvWriter  *CSVWriter
	xlsxWriter *XLSXWriter
	mu         sync.Mutex
}

// NewDualWriter creates writers for both formats.
func NewDualWriter(csvFilename, xlsxFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	xlsxWriter, err := NewXLSXWriter(xlsxFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create xlsx writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		xlsxWriter: xlsxWriter,
	}, nil
}

// Write writes products to both outputs.
func (dw *DualWriter) Write(products []*models.Product) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(products); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.xlsxWriter.Write(products); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(
		dw.csvWriter.Close(),
		dw.xlsxWriter.Close(),
	)
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	return errors.Join(
		dw.csvWriter.Validate(),
		dw.xlsxWriter.Validate(),
	)
}
