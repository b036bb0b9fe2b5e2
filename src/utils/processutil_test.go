package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestMissingColumns(t *testing.T) {
	df := dataframe.LoadRecords([][]string{{"anio", "fallecidos"}, {"2021", "3"}})
	require.NoError(t, df.Err)

	assert.True(t, HasColumn(df, "anio"))
	assert.Equal(t, []string{"municipio", "fecha"}, MissingColumns(df, "anio", "municipio", "fallecidos", "fecha"))
	assert.Empty(t, MissingColumns(df, "anio"))
}

func TestParseTime(t *testing.T) {
	layouts := []string{"2006-01-02", "02/01/2006"}

	got, err := ParseTime(series.Strings([]string{"2021-03-04"}).Elem(0), layouts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime(series.Strings([]string{"05/06/2022"}).Elem(0), layouts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 6, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime(series.Strings([]string{"NaN"}).Elem(0), layouts)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseTime(series.Strings([]string{"ayer"}).Elem(0), layouts)
	assert.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "2021-03-04", FormatDate(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2021-03-04 10:15:00", FormatDate(time.Date(2021, 3, 4, 10, 15, 0, 0, time.UTC)))
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []int{2019, 2020, 2021}, UniqueSorted([]int{2021, 2019, 2021, 2020}))
	assert.Equal(t, []string{"Antioquia", "Valle"}, UniqueSorted([]string{"Valle", "Antioquia", "Valle"}))
	assert.Empty(t, UniqueSorted([]string{}))
}

func TestSaveToExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xlsx")
	records := [][]string{
		{"Municipio", "Fallecidos"},
		{"Cali", "9"},
		{"Pasto", ""},
	}
	require.NoError(t, SaveToExcel(records, path, "top"))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("top")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Municipio", "Fallecidos"}, rows[0])
	assert.Equal(t, []string{"Cali", "9"}, rows[1])
	assert.Equal(t, "Pasto", rows[2][0])
}

func TestWriteCSVReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("viejo\n"), 0644))

	require.NoError(t, WriteCSV(path, [][]string{{"Municipio", "Fallecidos"}, {"Cali", ""}, {"Bello, Ant.", "9"}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Municipio,Fallecidos\nCali,\n\"Bello, Ant.\",9\n", string(data))
	assert.NoFileExists(t, path+".tmp")

	missing := filepath.Join(t.TempDir(), "no", "existe", "export.csv")
	require.Error(t, WriteCSV(missing, [][]string{{"a"}}))
	assert.NoFileExists(t, missing+".tmp")
}

func TestWriteCSVKeepsTargetWhenRenameFails(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "export.csv")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "x"), 0755))

	require.Error(t, WriteCSV(target, [][]string{{"a"}, {"1"}}))
	assert.NoFileExists(t, target+".tmp")
	assert.DirExists(t, target)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, "Top 20", [][]string{{"Municipio", "Fallecidos"}, {"Cali", "9"}})

	out := buf.String()
	assert.Contains(t, out, "Top 20")
	assert.Contains(t, strings.ToUpper(out), "MUNICIPIO")
	assert.Contains(t, out, "Cali")
}
