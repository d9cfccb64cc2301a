// Package extract turns an analysis block graph into per-page documents:
// the page text plus each table on the page as row-major grids.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// Page is the derived content of one document page.
type Page struct {
	Number int
	Lines  []string
	Tables []*Table
}

// Document is the persisted JSON form of a page.
type Document struct {
	JobID        string  `json:"jobId"`
	SourceBucket string  `json:"sourceBucket"`
	SourceKey    string  `json:"sourceKey"`
	Page         int     `json:"page"`
	Text         string  `json:"text"`
	Tables       [][]Row `json:"tables"`
}

// OutputKey is the object key a page document is stored under.
func OutputKey(sourceKey string, page int) string {
	return fmt.Sprintf("%s-page%d-documentPage.json", sourceKey, page)
}

// Text joins the page's lines with newlines.
func (p Page) Text() string {
	return strings.Join(p.Lines, "\n")
}

// Document builds the persisted form of p.
func (p Page) Document(jobID, bucket, key string) Document {
	tables := make([][]Row, 0, len(p.Tables))
	for _, t := range p.Tables {
		tables = append(tables, t.RowObjects())
	}
	return Document{
		JobID:        jobID,
		SourceBucket: bucket,
		SourceKey:    key,
		Page:         p.Number,
		Text:         p.Text(),
		Tables:       tables,
	}
}

// Encode marshals the page document. The same blocks always encode to the same bytes.
func (p Page) Encode(jobID, bucket, key string) ([]byte, error) {
	b, err := json.Marshal(p.Document(jobID, bucket, key))
	if err != nil {
		return nil, fmt.Errorf("encode page %d: %w", p.Number, err)
	}
	return b, nil
}

// BuildPages derives pages in ascending page order from a block graph.
// Lines and tables keep the order they have in blocks. Blocks without a page
// number belong to page 1, which is how single-page results are reported.
func BuildPages(blocks []types.Block) []Page {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if id := aws.ToString(b.Id); id != "" {
			byID[id] = b
		}
	}

	pages := map[int]*Page{}
	page := func(n int) *Page {
		p, ok := pages[n]
		if !ok {
			p = &Page{Number: n}
			pages[n] = p
		}
		return p
	}

	for _, b := range blocks {
		n := pageNumber(b)
		switch b.BlockType {
		case types.BlockTypePage:
			page(n)
		case types.BlockTypeLine:
			page(n).Lines = append(page(n).Lines, aws.ToString(b.Text))
		case types.BlockTypeTable:
			p := page(n)
			p.Tables = append(p.Tables, buildTable(b, byID))
		}
	}

	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]Page, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, *pages[n])
	}
	return out
}

func pageNumber(b types.Block) int {
	if b.Page == nil || *b.Page < 1 {
		return 1
	}
	return int(*b.Page)
}

func buildTable(table types.Block, byID map[string]types.Block) *Table {
	var cells []types.Block
	rows, columns := 0, 0
	for _, id := range childIDs(table) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != types.BlockTypeCell {
			continue
		}
		cells = append(cells, cell)
		if r := int(aws.ToInt32(cell.RowIndex)); r > rows {
			rows = r
		}
		if c := int(aws.ToInt32(cell.ColumnIndex)); c > columns {
			columns = c
		}
	}

	t := NewTable(rows, columns)
	for _, cell := range cells {
		// Service indices are 1-based.
		t.Set(int(aws.ToInt32(cell.RowIndex))-1, int(aws.ToInt32(cell.ColumnIndex))-1, cellText(cell, byID))
	}
	return t
}

func cellText(cell types.Block, byID map[string]types.Block) string {
	var words []string
	for _, id := range childIDs(cell) {
		child, ok := byID[id]
		if !ok {
			continue
		}
		switch child.BlockType {
		case types.BlockTypeWord:
			words = append(words, aws.ToString(child.Text))
		case types.BlockTypeSelectionElement:
			if child.SelectionStatus == types.SelectionStatusSelected {
				words = append(words, "X")
			}
		}
	}
	return strings.Join(words, " ")
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}
