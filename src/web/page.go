package web

import (
	"html/template"
	"strconv"

	"SiniestralidadVial/src/utils"
)

var templateFuncs = template.FuncMap{
	"hasInt": func(list []int, v int) bool { return utils.Contains(list, v) },
	"hasStr": func(list []string, v string) bool { return utils.Contains(list, v) },
	"num":    func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

const pageTemplate = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>Dashboard Siniestralidad Vial</title>
</head>
<body>
<h1>Tablero de Control: Siniestralidad Vial en Colombia</h1>
{{if .Error}}
<div class="error" role="alert">{{.Error}}</div>
{{else}}
<form method="get" action="/">
  <input type="hidden" name="aplicar" value="1">
  <h2>Filtros de Análisis</h2>
  <label>Seleccionar Año(s)
    <select name="anio" multiple>
    {{range .Options.Years}}<option value="{{.}}"{{if hasInt $.Filter.Years .}} selected{{end}}>{{.}}</option>
    {{end}}</select>
  </label>
  <label>Seleccionar Departamento(s)
    <select name="departamento" multiple>
    {{range .Options.Departments}}<option value="{{.}}"{{if hasStr $.Filter.Departments .}} selected{{end}}>{{.}}</option>
    {{end}}</select>
  </label>
  <button type="submit">Aplicar</button>
</form>

<section id="metricas">
<h2>Métricas Generales</h2>
{{range .Report.Cards}}<div class="metric"><span class="label">{{.Label}}</span> <span class="value">{{.Value}}</span></div>
{{end}}</section>

<section id="mapa">
<h2>Mapa de Calor (Sectores Críticos)</h2>
<p>{{len .Report.Mapa}} sectores con coordenadas</p>
</section>

<section id="tendencia">
<h2>Tendencia Temporal (Fallecidos)</h2>
<table>
<tr><th>fecha</th><th>anio</th><th>fallecidos</th></tr>
{{range .Report.Tendencia}}<tr><td>{{.Fecha}}</td><td>{{.Anio}}</td><td>{{num .Fallecidos}}</td></tr>
{{end}}</table>
</section>

<section id="top-municipios">
<h2>Top Municipios Críticos</h2>
<table>
<tr><th>municipio</th><th>fallecidos</th></tr>
{{range .Report.TopMunicipios}}<tr><td>{{.Municipio}}</td><td>{{num .Fallecidos}}</td></tr>
{{end}}</table>
</section>

<section id="dispersion">
<h2>Correlación: Estadística vs Realidad</h2>
<p>{{len .Report.Dispersion}} puntos GiZScore vs Fallecidos</p>
</section>

<section id="detalle">
{{if .Expand}}
<h2>Datos Detallados</h2>
<table>
{{range $i, $row := .Report.Tabla}}<tr>{{range $row}}{{if eq $i 0}}<th>{{.}}</th>{{else}}<td>{{.}}</td>{{end}}{{end}}</tr>
{{end}}</table>
<a href="/?{{.Query}}">Ocultar tabla</a>
{{else}}
<a href="/?{{.Query}}&amp;detalle=1">Ver Datos Detallados (Tabla)</a>
{{end}}
</section>

<script type="application/json" id="panel-data">{{.Report}}</script>
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function (ev) { if (ev.data === "reload") { location.reload(); } };
})();
</script>
{{end}}
</body>
</html>
`
