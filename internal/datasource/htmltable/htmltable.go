// Package htmltable is the HTML adapter for datasource: it reads the first
// table matching a selector from a saved page.
package htmltable

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"csvconf/internal/datasource"
)

func init() {
	datasource.Register(".html", Open)
	datasource.Register(".htm", Open)
}

// DefaultSelector picks the table when Options.Selector is empty.
const DefaultSelector = "table"

// Open parses path and returns its table as an in-memory source.
//
// The first row with cells is the header, whether it uses th or td. Rows
// shorter than the header leave trailing fields unset.
func Open(ctx context.Context, path string, opts datasource.Options) (datasource.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var in io.Reader = f
	if label := strings.TrimSpace(opts.Encoding); label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("htmltable: encoding %q: %w", label, err)
		}
		in = transform.NewReader(f, enc.NewDecoder())
	}

	doc, err := goquery.NewDocumentFromReader(in)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sel := opts.Selector
	if sel == "" {
		sel = DefaultSelector
	}
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("htmltable: no element matches %q in %s", sel, path)
	}

	names, records := ExtractTable(table)
	if len(names) == 0 {
		return nil, fmt.Errorf("htmltable: table in %s has no header row", path)
	}

	sample := records
	if limit := opts.DetectLimit(); len(sample) > limit {
		sample = sample[:limit]
	}
	types := datasource.DetectTypes(len(names), sample, opts.Numbers)

	fields := make([]datasource.Field, len(names))
	for i := range names {
		fields[i] = datasource.Field{Name: names[i], Native: types[i]}
	}
	rows := make([]datasource.Row, len(records))
	for i, rec := range records {
		rows[i] = datasource.ConvertRecord(fields, rec, opts.Numbers)
	}
	return datasource.NewMemory(fields, rows), nil
}

// ExtractTable returns header names and trimmed body cell text for a table
// selection. Empty header cells are named field_N.
func ExtractTable(table *goquery.Selection) ([]string, [][]string) {
	var (
		header  []string
		records [][]string
	)
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		// Rows of nested tables belong to those tables.
		if tr.Closest("table").Get(0) != table.Get(0) {
			return
		}
		cells := tr.Children().Filter("th, td")
		if cells.Length() == 0 {
			return
		}
		vals := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			vals = append(vals, strings.TrimSpace(c.Text()))
		})
		if header == nil {
			header = vals
			return
		}
		records = append(records, vals)
	})

	for i, h := range header {
		if h == "" {
			header[i] = fmt.Sprintf("field_%d", i+1)
		}
	}
	return header, records
}
