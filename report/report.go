// Package report renders an HTML overview of a scrape run.
package report

import (
	"fmt"
	"os"
	"sort"

	"github.com/akazanov/go-scrape-wb/models"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxBrands caps the pie so long-tail brands don't turn it into noise.
const maxBrands = 20

// Write renders brand and rating charts for the collected records into an
// HTML file at path.
func Write(path string, products []*models.Product) error {
	if len(products) == 0 {
		return fmt.Errorf("no records to report on")
	}

	page := components.NewPage()
	page.AddCharts(brandPie(products), ratingBar(products))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func brandPie(products []*models.Product) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Records per brand"}),
	)

	counts := make(map[string]int)
	for _, p := range products {
		brand := p.Brand
		if brand == "" {
			brand = "(no brand)"
		}
		counts[brand]++
	}

	brands := make([]string, 0, len(counts))
	for brand := range counts {
		brands = append(brands, brand)
	}
	sort.Slice(brands, func(i, j int) bool {
		if counts[brands[i]] != counts[brands[j]] {
			return counts[brands[i]] > counts[brands[j]]
		}
		return brands[i] < brands[j]
	})
	if len(brands) > maxBrands {
		brands = brands[:maxBrands]
	}

	items := make([]opts.PieData, 0, len(brands))
	for _, brand := range brands {
		items = append(items, opts.PieData{Name: brand, Value: counts[brand]})
	}
	pie.AddSeries("Records", items)
	return pie
}

func ratingBar(products []*models.Product) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Rating distribution"}),
	)

	// Buckets 0..5 by whole stars; unrated records get their own bucket.
	buckets := make([]int, 6)
	unrated := 0
	for _, p := range products {
		if !p.Rating.Valid {
			unrated++
			continue
		}
		star := int(p.Rating.Decimal.IntPart())
		if star < 0 {
			star = 0
		}
		if star > 5 {
			star = 5
		}
		buckets[star]++
	}

	labels := []string{"0", "1", "2", "3", "4", "5", "unrated"}
	values := make([]opts.BarData, 0, len(labels))
	for _, count := range buckets {
		values = append(values, opts.BarData{Value: count})
	}
	values = append(values, opts.BarData{Value: unrated})

	bar.SetXAxis(labels).AddSeries("Records", values)
	return bar
}
