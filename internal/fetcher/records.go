package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
)

// Pair is one invoice/PO pair of a batch run.
type Pair struct {
	ID      string         `json:"id"`
	Invoice map[string]any `json:"invoice"`
	PO      map[string]any `json:"po"`
}

// LoadRecords reads field records from a .json, .csv, .xlsx or .xml file.
// JSON may hold a single object or an array of objects; tabular formats use
// the first row as keys. Empty cells are omitted so they read as absent.
func LoadRecords(ctx context.Context, path string) ([]map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", path)
		}
		return decodeJSONRecords(data)
	case ".csv":
		rows, err := readCSV(path)
		if err != nil {
			return nil, err
		}
		return rowsToRecords(ctx, rows)
	case ".xlsx":
		rows, err := readXLSX(path)
		if err != nil {
			return nil, err
		}
		return rowsToRecords(ctx, rows)
	case ".xml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return decodeXMLRecords(f)
	default:
		return nil, eris.Errorf("fetcher: unsupported record file %q", filepath.Base(path))
	}
}

// LoadPairs reads batch pairs. JSON files hold an array of
// {"id", "invoice", "po"} objects. CSV and XLSX files carry an optional
// "id" column plus "invoice.<field>" and "po.<field>" columns.
func LoadPairs(ctx context.Context, path string) ([]Pair, error) {
	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", path)
		}
		return decodeJSONPairs(data)
	case ".csv":
		var err error
		if rows, err = readCSV(path); err != nil {
			return nil, err
		}
	case ".xlsx":
		var err error
		if rows, err = readXLSX(path); err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("fetcher: unsupported pairs file %q", filepath.Base(path))
	}

	records, err := rowsToRecords(ctx, rows)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(records))
	for _, rec := range records {
		p := Pair{Invoice: map[string]any{}, PO: map[string]any{}}
		for k, v := range rec {
			switch {
			case k == "id":
				p.ID, _ = v.(string)
			case strings.HasPrefix(k, "invoice."):
				p.Invoice[strings.TrimPrefix(k, "invoice.")] = v
			case strings.HasPrefix(k, "po."):
				p.PO[strings.TrimPrefix(k, "po.")] = v
			}
		}
		pairs = append(pairs, p)
	}
	fillPairIDs(pairs)
	return pairs, nil
}

func decodeJSONRecords(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, eris.New("fetcher: empty json document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '{' {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrap(err, "fetcher: decode json object")
		}
		return []map[string]any{rec}, nil
	}

	var recs []map[string]any
	if err := dec.Decode(&recs); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode json array")
	}
	return recs, nil
}

func decodeJSONPairs(data []byte) ([]Pair, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var pairs []Pair
	if err := dec.Decode(&pairs); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode pairs")
	}
	fillPairIDs(pairs)
	return pairs, nil
}

func fillPairIDs(pairs []Pair) {
	for i := range pairs {
		if pairs[i].ID == "" {
			pairs[i].ID = "pair-" + strconv.Itoa(i+1)
		}
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse csv")
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func rowsToRecords(ctx context.Context, rows [][]string) ([]map[string]any, error) {
	if len(rows) == 0 {
		return nil, eris.New("fetcher: no header row")
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	recs := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetcher: context cancelled")
		}
		rec := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				rec[header[i]] = v
			}
		}
		if len(rec) > 0 {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

type xmlNode struct {
	XMLName  xml.Name
	Value    string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

// decodeXMLRecords treats each child of the root as a record whose children
// are fields. A root whose children are all leaves is a single record.
func decodeXMLRecords(r io.Reader) ([]map[string]any, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode xml")
	}

	leaves := true
	for _, c := range root.Children {
		if len(c.Children) > 0 {
			leaves = false
			break
		}
	}
	if leaves {
		return []map[string]any{leafFields(root.Children)}, nil
	}

	recs := make([]map[string]any, 0, len(root.Children))
	for _, c := range root.Children {
		if len(c.Children) == 0 {
			continue
		}
		recs = append(recs, leafFields(c.Children))
	}
	return recs, nil
}

func leafFields(nodes []xmlNode) map[string]any {
	rec := make(map[string]any, len(nodes))
	for _, n := range nodes {
		if v := strings.TrimSpace(n.Value); v != "" && len(n.Children) == 0 {
			rec[n.XMLName.Local] = v
		}
	}
	return rec
}
