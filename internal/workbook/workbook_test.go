package workbook

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadRows_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"coach_id", "Coachnaam"},
			{"1", "Anna"},
			{"2", "Bert"},
		},
	})

	rows, err := ReadRows(path, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"coach_id", "Coachnaam"}, rows[0])
	assert.Equal(t, []string{"2", "Bert"}, rows[2])
}

func TestReadRows_SkipRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"h1", "h2"}, {"a", "b"}},
	})

	rows, err := ReadRows(path, Options{SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestReadRows_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadRows(path, Options{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)

	_, err = ReadRows(path, Options{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadRows_MissingFile(t *testing.T) {
	_, err := ReadRows(filepath.Join(t.TempDir(), "nope.xlsx"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workbook: open")
}

func TestReadRecords(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"stage_mapping": {
			{" pipeline_id ", "dealstage_id", "class"},
			{"p1", "s1", "WON"},
			{"", "", ""},
			{"p1", "s2"},
		},
	})

	header, recs, err := ReadRecords(path, "stage_mapping")
	require.NoError(t, err)
	assert.Equal(t, []string{"pipeline_id", "dealstage_id", "class"}, header)
	require.Len(t, recs, 2)
	assert.Equal(t, "p1", recs[0].Get("pipeline_id"))
	assert.Equal(t, "WON", recs[0].Get("class"))
	assert.Equal(t, "", recs[1].Get("class"))
	assert.Equal(t, "", recs[1].Get("unknown"))
}

func TestReadRecords_EmptySheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Empty": {}})

	header, recs, err := ReadRecords(path, "Empty")
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Nil(t, recs)
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.xlsx")
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := Write(path, []Sheet{
		{
			Name:   "Coaches",
			Header: []string{"coach_id", "deals_1m", "rate_1m", "active", "updated", "note"},
			Rows: [][]any{
				{"c1", 12, 41.7, true, ts, nil},
				{"c2", int64(3), 0.0, false, ts, "x"},
			},
		},
		{Name: "Owners", Header: []string{"owner_id", "owner_name"}},
	})
	require.NoError(t, err)

	names, err := SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Coaches", "Owners"}, names)

	_, recs, err := ReadRecords(path, "Coaches")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c1", recs[0].Get("coach_id"))

	deals, err := strconv.Atoi(recs[0].Get("deals_1m"))
	require.NoError(t, err)
	assert.Equal(t, 12, deals)

	rate, err := strconv.ParseFloat(recs[0].Get("rate_1m"), 64)
	require.NoError(t, err)
	assert.InDelta(t, 41.7, rate, 1e-9)

	assert.Equal(t, "true", recs[0].Get("active"))
	assert.Equal(t, "false", recs[1].Get("active"))
	assert.Equal(t, "2026-03-02T09:00:00Z", recs[0].Get("updated"))
	assert.Equal(t, "x", recs[1].Get("note"))

	_, owners, err := ReadRecords(path, "Owners")
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestWrite_NoSheets(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "x.xlsx"), nil)
	require.Error(t, err)
}
