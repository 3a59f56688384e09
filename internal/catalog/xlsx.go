package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSX column layout for inventory imports. Fixed header order:
// part_key, description, material, form, category, price, availability,
// certifications (semicolon-separated), then dimension columns prefixed
// with "dim:" (e.g. "dim:diameter").
const xlsxFixedColumns = 8

// LoadXLSX reads an inventory sheet and returns catalog items, computing an
// embedding per item with the given embedder. Rows with an empty part key
// are skipped.
func LoadXLSX(ctx context.Context, path string, embedder Embedder) ([]Item, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("catalog: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.New("catalog: xlsx has no data rows")
	}

	header := rowToStrings(sheet.Rows[0])
	dimNames := make(map[int]string)
	for j, h := range header {
		if name, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(h)), "dim:"); ok && j >= xlsxFixedColumns {
			dimNames[j] = name
		}
	}

	var items []Item
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "catalog: xlsx import cancelled")
		}

		cells := rowToStrings(row)
		get := func(j int) string {
			if j < len(cells) {
				return strings.TrimSpace(cells[j])
			}
			return ""
		}

		partKey := get(0)
		if partKey == "" {
			continue
		}

		it := Item{
			PartKey:     partKey,
			Description: get(1),
			Material:    get(2),
			Form:        get(3),
			Category:    get(4),
		}
		if price, err := strconv.ParseFloat(get(5), 64); err == nil {
			it.Price = price
		}
		if avail, err := strconv.Atoi(get(6)); err == nil {
			it.Availability = avail
		}
		if certs := get(7); certs != "" {
			for _, c := range strings.Split(certs, ";") {
				if c = strings.TrimSpace(c); c != "" {
					it.Certifications = append(it.Certifications, c)
				}
			}
		}

		for j, name := range dimNames {
			if v, err := strconv.ParseFloat(get(j), 64); err == nil {
				if it.Dimensions == nil {
					it.Dimensions = make(map[string]float64)
				}
				it.Dimensions[name] = v
			}
		}

		if embedder != nil {
			emb, err := embedder.Embed(ctx, it.Description+" "+it.Material+" "+it.Form)
			if err != nil {
				return nil, eris.Wrapf(err, "catalog: embed %s", partKey)
			}
			it.Embedding = emb
		}

		items = append(items, it)
	}
	return items, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
