package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/processor"
	"SiniestralidadVial/src/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const enriched = `anio,departamento,municipio,tramo,gizscore,fallecidos,latitud,longitud,fecha
2021,Antioquia,Medellín,T1,2.0,1,6.25,-75.56,2021-03-01
2022,Valle,Cali,T2,3.0,5,3.45,-76.53,2022-05-10
2022,Antioquia,Bello,T3,4.0,2,6.33,-75.55,2022-05-10
`

func newTestServer(t *testing.T, data string) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Dashboard.DataPath = filepath.Join(dir, "dataset_enriquecido.csv")
	cfg.Dashboard.Watch = false
	if data != "" {
		require.NoError(t, os.WriteFile(cfg.Dashboard.DataPath, []byte(data), 0644))
	}

	logger, err := storage.NewLogger(filepath.Join(dir, "app.log"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	return NewServer(cfg, config.DefaultDataConfig(), logger), cfg.Dashboard.DataPath
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndexMissingDataRendersOnlyError(t *testing.T) {
	s, path := newTestServer(t, "")

	rec := get(t, s, "/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "No se encontró el archivo en: "+path)
	assert.NotContains(t, body, "Métricas Generales")
	assert.NotContains(t, body, "Top Municipios")
	assert.NotContains(t, body, "panel-data")
}

func TestIndexRendersMetrics(t *testing.T) {
	s, _ := newTestServer(t, enriched)

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `<span class="label">Total Fallecidos</span> <span class="value">8</span>`)
	assert.Contains(t, body, `<span class="label">Máx. Fallecidos (1 sector)</span> <span class="value">5</span>`)
	assert.Contains(t, body, "Ver Datos Detallados")
	assert.NotContains(t, body, "<th>tramo</th>")

	rec = get(t, s, "/?detalle=1")
	assert.Contains(t, rec.Body.String(), "<th>tramo</th>")
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestReportEmptySelectionMeansAll(t *testing.T) {
	s, _ := newTestServer(t, enriched)

	rec := get(t, s, "/api/report?aplicar=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var cards []processor.Card
	require.NoError(t, json.Unmarshal(decodeReport(t, rec)["metricas"], &cards))
	assert.Equal(t, "8", cards[0].Value)
	assert.Equal(t, "3", cards[1].Value)
}

func TestReportFilters(t *testing.T) {
	s, _ := newTestServer(t, enriched)

	rec := get(t, s, "/api/report?aplicar=1&anio=2022&departamento=Antioquia")
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeReport(t, rec)
	var cards []processor.Card
	require.NoError(t, json.Unmarshal(report["metricas"], &cards))
	assert.Equal(t, "2", cards[0].Value)
	assert.Equal(t, "1", cards[1].Value)

	var top []processor.MunicipioTotal
	require.NoError(t, json.Unmarshal(report["top_municipios"], &top))
	assert.Equal(t, []processor.MunicipioTotal{{Municipio: "Bello", Fallecidos: 2}}, top)
	_, hasTable := report["tabla"]
	assert.False(t, hasTable)

	rec = get(t, s, "/api/report?aplicar=1&anio=dosmil")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportMissingData(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := get(t, s, "/api/report")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "No se encontró el archivo")
}

func TestReportSchemaError(t *testing.T) {
	s, _ := newTestServer(t, "anio,municipio\n2021,Cali\n")

	rec := get(t, s, "/api/report")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "faltan columnas")
}

func TestOptions(t *testing.T) {
	s, _ := newTestServer(t, enriched)

	rec := get(t, s, "/api/options")
	require.Equal(t, http.StatusOK, rec.Code)

	var opts processor.Options
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, []int{2021, 2022}, opts.Years)
	assert.Equal(t, []string{"Antioquia", "Valle"}, opts.Departments)
	assert.Equal(t, opts.Departments, opts.Default.Departments)
}

func TestParseFilterDefaultsUntilApplied(t *testing.T) {
	opts := processor.Options{Default: processor.Filter{Years: []int{2021}, Departments: []string{"Valle"}}}

	f, err := parseFilter(map[string][]string{}, opts)
	require.NoError(t, err)
	assert.Equal(t, opts.Default, f)

	f, err = parseFilter(map[string][]string{"aplicar": {"1"}, "anio": {""}}, opts)
	require.NoError(t, err)
	assert.Empty(t, f.Years)
	assert.Empty(t, f.Departments)

	assert.Equal(t, "aplicar=1&anio=2021&departamento=Valle", filterQuery(opts.Default).Encode())
}

func TestReloadBroadcastsToBrowsers(t *testing.T) {
	s, path := newTestServer(t, enriched)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Reload(path)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "reload", string(msg))
}

func TestLogsStream(t *testing.T) {
	s, _ := newTestServer(t, enriched)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()

	s.logger.Info("hola desde el pipeline")

	buf := make([]byte, 256)
	n, err := io.ReadAtLeast(resp.Body, buf, len("INFO: hola"))
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "INFO: hola desde el pipeline")
}
