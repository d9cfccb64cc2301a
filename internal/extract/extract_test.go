package extract

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(id, text string, page int32) types.Block {
	return types.Block{Id: aws.String(id), BlockType: types.BlockTypeWord, Text: aws.String(text), Page: aws.Int32(page)}
}

func cell(id string, row, col int32, page int32, words ...string) types.Block {
	b := types.Block{
		Id:          aws.String(id),
		BlockType:   types.BlockTypeCell,
		RowIndex:    aws.Int32(row),
		ColumnIndex: aws.Int32(col),
		Page:        aws.Int32(page),
	}
	if len(words) > 0 {
		b.Relationships = []types.Relationship{{Type: types.RelationshipTypeChild, Ids: words}}
	}
	return b
}

func table(id string, page int32, cells ...string) types.Block {
	return types.Block{
		Id:            aws.String(id),
		BlockType:     types.BlockTypeTable,
		Page:          aws.Int32(page),
		Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: cells}},
	}
}

func TestTableMissingCellIsEmpty(t *testing.T) {
	tbl := NewTable(2, 3)
	tbl.Set(0, 0, "A")
	tbl.Set(0, 2, "B")
	tbl.Set(1, 0, "C")
	tbl.Set(1, 1, "D")
	tbl.Set(1, 2, "E")

	b, err := json.Marshal(tbl.RowObjects())
	require.NoError(t, err)
	assert.Equal(t,
		`[{"Column1":"A","Column2":"","Column3":"B"},{"Column1":"C","Column2":"D","Column3":"E"}]`,
		string(b))
}

func TestRowKeepsColumnOrderPastNine(t *testing.T) {
	row := make(Row, 11)
	row[9] = "ten"
	row[10] = "eleven"

	b, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"Column9":"","Column10":"ten","Column11":"eleven"}`)

	var back Row
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, row, back)
	v, ok := back.Get("Column10")
	assert.True(t, ok)
	assert.Equal(t, "ten", v)
	_, ok = back.Get("Column12")
	assert.False(t, ok)
}

func TestTableIgnoresOutOfRange(t *testing.T) {
	tbl := NewTable(1, 1)
	tbl.Set(3, 3, "x")
	tbl.Set(-1, 0, "x")
	assert.Equal(t, "", tbl.Cell(3, 3))
	assert.Equal(t, "", tbl.Cell(0, 0))
}

func TestBuildPagesFromBlocks(t *testing.T) {
	blocks := []types.Block{
		{Id: aws.String("page2"), BlockType: types.BlockTypePage, Page: aws.Int32(2)},
		{Id: aws.String("page1"), BlockType: types.BlockTypePage, Page: aws.Int32(1)},
		{Id: aws.String("l1"), BlockType: types.BlockTypeLine, Text: aws.String("Invoice"), Page: aws.Int32(1)},
		{Id: aws.String("l2"), BlockType: types.BlockTypeLine, Text: aws.String("Total 42"), Page: aws.Int32(1)},
		{Id: aws.String("l3"), BlockType: types.BlockTypeLine, Text: aws.String("Notes"), Page: aws.Int32(2)},
		table("t1", 1, "c11", "c13", "c21", "c22", "c23"),
		cell("c11", 1, 1, 1, "w1"),
		cell("c13", 1, 3, 1, "w2"),
		cell("c21", 2, 1, 1, "w3"),
		cell("c22", 2, 2, 1, "w4", "w5"),
		cell("c23", 2, 3, 1, "w6"),
		word("w1", "A", 1),
		word("w2", "B", 1),
		word("w3", "C", 1),
		word("w4", "D", 1),
		word("w5", "D2", 1),
		word("w6", "E", 1),
	}

	pages := BuildPages(blocks)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "Invoice\nTotal 42", pages[0].Text())
	assert.Empty(t, pages[1].Tables)

	require.Len(t, pages[0].Tables, 1)
	tbl := pages[0].Tables[0]
	assert.Equal(t, 2, tbl.Rows())
	assert.Equal(t, 3, tbl.Columns())
	assert.Equal(t, "", tbl.Cell(0, 1))
	assert.Equal(t, "D D2", tbl.Cell(1, 1))
}

func TestSelectionElementRendersAsMark(t *testing.T) {
	blocks := []types.Block{
		table("t1", 1, "c1", "c2"),
		cell("c1", 1, 1, 1, "s1"),
		cell("c2", 1, 2, 1, "s2"),
		{Id: aws.String("s1"), BlockType: types.BlockTypeSelectionElement, SelectionStatus: types.SelectionStatusSelected},
		{Id: aws.String("s2"), BlockType: types.BlockTypeSelectionElement, SelectionStatus: types.SelectionStatusNotSelected},
	}
	pages := BuildPages(blocks)
	require.Len(t, pages, 1)
	assert.Equal(t, "X", pages[0].Tables[0].Cell(0, 0))
	assert.Equal(t, "", pages[0].Tables[0].Cell(0, 1))
}

func TestBlocksWithoutPageBelongToFirstPage(t *testing.T) {
	pages := BuildPages([]types.Block{
		{Id: aws.String("p"), BlockType: types.BlockTypePage},
		{Id: aws.String("l"), BlockType: types.BlockTypeLine, Text: aws.String("hello")},
	})
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "hello", pages[0].Text())
}

func TestEncodeIsDeterministic(t *testing.T) {
	blocks := []types.Block{
		{Id: aws.String("p"), BlockType: types.BlockTypePage, Page: aws.Int32(1)},
		table("t1", 1, "c1"),
		cell("c1", 1, 1, 1, "w1"),
		word("w1", "<b>", 1),
	}
	first, err := BuildPages(blocks)[0].Encode("job-1", "uploads", "doc.pdf")
	require.NoError(t, err)
	second, err := BuildPages(blocks)[0].Encode("job-1", "uploads", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var doc Document
	require.NoError(t, json.Unmarshal(first, &doc))
	assert.Equal(t, "job-1", doc.JobID)
	assert.Equal(t, 1, doc.Page)
	require.Len(t, doc.Tables, 1)
	assert.Equal(t, Row{"<b>"}, doc.Tables[0][0])
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "scans/doc.pdf-page3-documentPage.json", OutputKey("scans/doc.pdf", 3))
}
