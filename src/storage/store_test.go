package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Municipio,Departamento,GiZScore,Fallecidos,Activo
Bogotá,Cundinamarca,3.5,4,true
Cali,Valle,2.1,<Null>,false
Medellín,Antioquia,4.25,9,true
Pasto,<Null>,1.0,4,true
`

func loadSample(t *testing.T) dataframe.DataFrame {
	t.Helper()
	df := dataframe.ReadCSV(strings.NewReader(sampleCSV), dataframe.NaNValues([]string{"<Null>"}))
	require.NoError(t, df.Err)
	return df
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "proyecto.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReplaceTablePreservesRowsAndColumns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	n, err := store.ReplaceTable(ctx, "sectores_criticos", loadSample(t))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	count, err := store.CountRows(ctx, "sectores_criticos")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	cols, err := store.TableColumns(ctx, "sectores_criticos")
	require.NoError(t, err)
	assert.Equal(t, []string{"Municipio", "Departamento", "GiZScore", "Fallecidos", "Activo"}, cols)
}

func TestReplaceTableOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 2; i++ {
		_, err := store.ReplaceTable(ctx, "sectores_criticos", loadSample(t))
		require.NoError(t, err)
	}

	count, err := store.CountRows(ctx, "sectores_criticos")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestNullSentinelStoredAsNull(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.ReplaceTable(ctx, "sectores_criticos", loadSample(t))
	require.NoError(t, err)

	res, err := store.Query(ctx, `SELECT COUNT(*) FROM "sectores_criticos" WHERE "Fallecidos" IS NULL OR "Departamento" IS NULL`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows[0][0])

	res, err = store.Query(ctx, `SELECT COUNT(*) FROM "sectores_criticos" WHERE "Departamento" = '<Null>'`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Rows[0][0])
}

func TestTopNOrdersDescendingWithStableTies(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.ReplaceTable(ctx, "sectores_criticos", loadSample(t))
	require.NoError(t, err)

	res, err := store.TopN(ctx, "sectores_criticos", "Fallecidos", 20)
	require.NoError(t, err)

	records := res.Records()
	require.Len(t, records, 5)
	assert.Equal(t, []string{"Municipio", "Departamento", "GiZScore", "Fallecidos", "Activo"}, records[0])
	assert.Equal(t, []string{"Medellín", "Antioquia", "4.25", "9", "1"}, records[1])
	assert.Equal(t, []string{"Bogotá", "Cundinamarca", "3.5", "4", "1"}, records[2])
	assert.Equal(t, []string{"Pasto", "", "1", "4", "1"}, records[3])
	// NULL排在最后
	assert.Equal(t, []string{"Cali", "Valle", "2.1", "", "0"}, records[4])

	res, err = store.TopN(ctx, "sectores_criticos", "Fallecidos", 2)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
}

func TestTopNUnknownColumn(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.ReplaceTable(ctx, "sectores_criticos", loadSample(t))
	require.NoError(t, err)

	_, err = store.TopN(ctx, "sectores_criticos", "Heridos", 20)
	assert.Error(t, err)
}

func TestRunLog(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.EnsureRunLog(ctx, "etl_runs"))
	require.NoError(t, store.EnsureRunLog(ctx, "etl_runs"))

	start := time.Date(2025, 11, 9, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertRunLog(ctx, "etl_runs", RunLog{
		ID: "a", StartTime: start, EndTime: start.Add(time.Second), Status: RunSuccess,
		RowsLoaded: 4, RowsExported: 4,
	}))
	require.NoError(t, store.InsertRunLog(ctx, "etl_runs", RunLog{
		ID: "b", StartTime: start.Add(time.Hour), EndTime: start.Add(time.Hour), Status: RunFailed,
		ErrorKind: "store", ErrorMessage: "disk full",
	}))

	runs, err := store.LastRuns(ctx, "etl_runs", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "disk full", runs[0].ErrorMessage)
	assert.Equal(t, 4, runs[1].RowsLoaded)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"Fallecidos"`, QuoteIdent("Fallecidos"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "12", FormatValue(int64(12)))
	assert.Equal(t, "0.5", FormatValue(0.5))
	assert.Equal(t, "3", FormatValue(3.0))
	assert.Equal(t, "abc", FormatValue([]byte("abc")))
}
