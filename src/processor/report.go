package processor

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"SiniestralidadVial/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Filter 年份与省份的多选过滤，空切片表示该过滤不生效(放行全部)
type Filter struct {
	Years       []int    `json:"anios"`
	Departments []string `json:"departamentos"`
}

// Options 过滤器可选值及默认值
type Options struct {
	Years       []int    `json:"anios"`
	Departments []string `json:"departamentos"`
	Default     Filter   `json:"default"`
}

// Metrics 汇总指标
type Metrics struct {
	TotalFallecidos float64
	Sectores        int
	PromedioGiZ     float64 // 无数据时为NaN
	MaxFallecidos   float64 // 无数据时为NaN
}

// Card 指标卡片
type Card struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type MapPoint struct {
	Latitud      float64 `json:"latitud"`
	Longitud     float64 `json:"longitud"`
	Fallecidos   float64 `json:"fallecidos"`
	Municipio    string  `json:"municipio"`
	Departamento string  `json:"departamento"`
	Tramo        string  `json:"tramo"`
	GiZScore     float64 `json:"gizscore"`
}

type TimePoint struct {
	Fecha      string  `json:"fecha"`
	Anio       int     `json:"anio"`
	Fallecidos float64 `json:"fallecidos"`
}

type MunicipioTotal struct {
	Municipio  string  `json:"municipio"`
	Fallecidos float64 `json:"fallecidos"`
}

type ScatterPoint struct {
	GiZScore     float64 `json:"gizscore"`
	Fallecidos   float64 `json:"fallecidos"`
	Departamento string  `json:"departamento"`
	Municipio    string  `json:"municipio"`
}

// Report 一次过滤后的全部看板数据
type Report struct {
	Filter        Filter           `json:"filtro"`
	Metrics       Metrics          `json:"-"`
	Cards         []Card           `json:"metricas"`
	Mapa          []MapPoint       `json:"mapa"`
	Tendencia     []TimePoint      `json:"tendencia"`
	TopMunicipios []MunicipioTotal `json:"top_municipios"`
	Dispersion    []ScatterPoint   `json:"dispersion"`
	Tabla         [][]string       `json:"tabla,omitempty"`
}

// Options 年份全选，省份默认取字母序前 n 个
func (d *Dataset) Options(n int) Options {
	var years []int
	anio := d.df.Col(ColAnio)
	for i := 0; i < anio.Len(); i++ {
		if v, ok := intAt(anio, i); ok {
			years = append(years, v)
		}
	}
	years = utils.UniqueSorted(years)

	var deptos []string
	dep := d.df.Col(ColDepartamento)
	for i := 0; i < dep.Len(); i++ {
		if e := dep.Elem(i); !e.IsNA() {
			deptos = append(deptos, e.String())
		}
	}
	deptos = utils.UniqueSorted(deptos)

	def := Filter{Years: append([]int(nil), years...)}
	if n > len(deptos) {
		n = len(deptos)
	}
	def.Departments = append([]string(nil), deptos[:n]...)

	return Options{Years: years, Departments: deptos, Default: def}
}

// Apply 按过滤条件返回子集，不修改原数据
func (d *Dataset) Apply(f Filter) dataframe.DataFrame {
	return ApplyFilter(d.df, f)
}

// ApplyFilter 每个非空选择按成员关系过滤，空选择放行全部
func ApplyFilter(df dataframe.DataFrame, f Filter) dataframe.DataFrame {
	out := df
	if len(f.Years) > 0 {
		out = out.Filter(dataframe.F{
			Colname:    ColAnio,
			Comparator: series.CompFunc,
			Comparando: func(el series.Element) bool {
				if el.IsNA() {
					return false
				}
				v, err := el.Int()
				return err == nil && utils.Contains(f.Years, v)
			},
		})
	}
	if len(f.Departments) > 0 {
		out = out.Filter(dataframe.F{
			Colname:    ColDepartamento,
			Comparator: series.CompFunc,
			Comparando: func(el series.Element) bool {
				return !el.IsNA() && utils.Contains(f.Departments, el.String())
			},
		})
	}
	return out
}

// ComputeMetrics 求和/均值/最大值均跳过缺失值
func ComputeMetrics(df dataframe.DataFrame) Metrics {
	fallecidos := validFloats(df.Col(ColFallecidos))
	giz := validFloats(df.Col(ColGiZScore))

	m := Metrics{
		Sectores:      df.Nrow(),
		PromedioGiZ:   math.NaN(),
		MaxFallecidos: math.NaN(),
	}
	if len(fallecidos) > 0 {
		m.TotalFallecidos = floats.Sum(fallecidos)
		m.MaxFallecidos = floats.Max(fallecidos)
	}
	if len(giz) > 0 {
		m.PromedioGiZ = stat.Mean(giz, nil)
	}
	return m
}

// Cards 指标的展示文本
func (m Metrics) Cards() []Card {
	return []Card{
		{Label: "Total Fallecidos", Value: FormatThousands(m.TotalFallecidos)},
		{Label: "Sectores Críticos", Value: strconv.Itoa(m.Sectores)},
		{Label: "Intensidad Prom. (GiZ)", Value: formatFixed(m.PromedioGiZ, 2)},
		{Label: "Máx. Fallecidos (1 sector)", Value: formatNumber(m.MaxFallecidos)},
	}
}

// BuildReport 由过滤后的数据计算指标与各面板，expand为true时附带明细表
func BuildReport(filtered dataframe.DataFrame, f Filter, top int, expand bool) *Report {
	m := ComputeMetrics(filtered)
	r := &Report{
		Filter:        f,
		Metrics:       m,
		Cards:         m.Cards(),
		Mapa:          MapPoints(filtered),
		Tendencia:     TimeSeries(filtered),
		TopMunicipios: TopMunicipios(filtered, top),
		Dispersion:    Scatter(filtered),
	}
	if expand {
		r.Tabla = TableRecords(filtered)
	}
	return r
}

// MapPoints 每行一个点，坐标缺失的行不出现在地图上
func MapPoints(df dataframe.DataFrame) []MapPoint {
	lat, lon := df.Col(ColLatitud), df.Col(ColLongitud)
	fal, giz := df.Col(ColFallecidos), df.Col(ColGiZScore)
	mun, dep, tramo := df.Col(ColMunicipio), df.Col(ColDepartamento), df.Col(ColTramo)

	points := make([]MapPoint, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		la, okLat := floatAt(lat, i)
		lo, okLon := floatAt(lon, i)
		if !okLat || !okLon {
			continue
		}
		f, _ := floatAt(fal, i)
		g, _ := floatAt(giz, i)
		points = append(points, MapPoint{
			Latitud:      la,
			Longitud:     lo,
			Fallecidos:   f,
			Municipio:    stringAt(mun, i),
			Departamento: stringAt(dep, i),
			Tramo:        stringAt(tramo, i),
			GiZScore:     g,
		})
	}
	return points
}

// TimeSeries 按(fecha, anio)分组求和，按日期升序
func TimeSeries(df dataframe.DataFrame) []TimePoint {
	if df.Nrow() == 0 {
		return []TimePoint{}
	}
	groups := dropNA(df, ColFecha, ColAnio).GroupBy(ColFecha, ColAnio)
	if groups == nil || groups.Err != nil {
		return []TimePoint{}
	}

	points := make([]TimePoint, 0)
	for _, g := range groups.GetGroups() {
		anio, ok := intAt(g.Col(ColAnio), 0)
		if !ok {
			continue
		}
		points = append(points, TimePoint{
			Fecha:      stringAt(g.Col(ColFecha), 0),
			Anio:       anio,
			Fallecidos: sumValid(g.Col(ColFallecidos)),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Fecha != points[j].Fecha {
			return points[i].Fecha < points[j].Fecha
		}
		return points[i].Anio < points[j].Anio
	})
	return points
}

// TopMunicipios 按municipio汇总死亡人数，取前n个，同值按名称排序
func TopMunicipios(df dataframe.DataFrame, n int) []MunicipioTotal {
	totals := make([]MunicipioTotal, 0)
	if df.Nrow() == 0 {
		return totals
	}
	groups := dropNA(df, ColMunicipio).GroupBy(ColMunicipio)
	if groups == nil || groups.Err != nil {
		return totals
	}

	for _, g := range groups.GetGroups() {
		totals = append(totals, MunicipioTotal{
			Municipio:  stringAt(g.Col(ColMunicipio), 0),
			Fallecidos: sumValid(g.Col(ColFallecidos)),
		})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Fallecidos != totals[j].Fallecidos {
			return totals[i].Fallecidos > totals[j].Fallecidos
		}
		return totals[i].Municipio < totals[j].Municipio
	})
	if n >= 0 && len(totals) > n {
		totals = totals[:n]
	}
	return totals
}

// Scatter GiZScore 与死亡人数的散点，按省份着色
func Scatter(df dataframe.DataFrame) []ScatterPoint {
	giz, fal := df.Col(ColGiZScore), df.Col(ColFallecidos)
	mun, dep := df.Col(ColMunicipio), df.Col(ColDepartamento)

	points := make([]ScatterPoint, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		g, okG := floatAt(giz, i)
		f, okF := floatAt(fal, i)
		if !okG || !okF {
			continue
		}
		points = append(points, ScatterPoint{
			GiZScore:     g,
			Fallecidos:   f,
			Departamento: stringAt(dep, i),
			Municipio:    stringAt(mun, i),
		})
	}
	return points
}

// TableRecords 明细表，缺失值显示为空
func TableRecords(df dataframe.DataFrame) [][]string {
	names := df.Names()
	records := [][]string{names}
	cols := make([]series.Series, len(names))
	for i, name := range names {
		cols[i] = df.Col(name)
	}
	for row := 0; row < df.Nrow(); row++ {
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = cellText(col, row)
		}
		records = append(records, record)
	}
	return records
}

// FormatThousands 千位分隔、无小数，如 12,345
func FormatThousands(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	s := strconv.FormatFloat(math.Abs(math.Round(v)), 'f', 0, 64)
	var b strings.Builder
	if v < 0 && math.Round(v) != 0 {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func formatFixed(v float64, prec int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cellText(col series.Series, i int) string {
	e := col.Elem(i)
	if e.IsNA() {
		return ""
	}
	if col.Type() == series.Float {
		return formatNumber(e.Float())
	}
	return e.String()
}

// dropNA 去掉任一列缺失的行，GroupBy无法对缺失值生成分组键
func dropNA(df dataframe.DataFrame, cols ...string) dataframe.DataFrame {
	for _, col := range cols {
		df = df.Filter(dataframe.F{
			Colname:    col,
			Comparator: series.CompFunc,
			Comparando: func(el series.Element) bool { return !el.IsNA() },
		})
	}
	return df
}

func validFloats(s series.Series) []float64 {
	out := make([]float64, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		if v, ok := floatAt(s, i); ok {
			out = append(out, v)
		}
	}
	return out
}

func sumValid(s series.Series) float64 {
	return floats.Sum(validFloats(s))
}

func floatAt(s series.Series, i int) (float64, bool) {
	e := s.Elem(i)
	if e.IsNA() {
		return 0, false
	}
	v := e.Float()
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func intAt(s series.Series, i int) (int, bool) {
	e := s.Elem(i)
	if e.IsNA() {
		return 0, false
	}
	v, err := e.Int()
	return v, err == nil
}

func stringAt(s series.Series, i int) string {
	e := s.Elem(i)
	if e.IsNA() {
		return ""
	}
	return e.String()
}
