package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// 增强数据集的逻辑列名
const (
	ColAnio         = "anio"
	ColDepartamento = "departamento"
	ColMunicipio    = "municipio"
	ColTramo        = "tramo"
	ColGiZScore     = "gizscore"
	ColFallecidos   = "fallecidos"
	ColLatitud      = "latitud"
	ColLongitud     = "longitud"
	ColFecha        = "fecha"
)

// Column 声明的列
type Column struct {
	Name string
	Type series.Type
}

// Schema 增强数据集的声明式结构，fecha 读入为字符串后再解析
var Schema = []Column{
	{ColAnio, series.Int},
	{ColDepartamento, series.String},
	{ColMunicipio, series.String},
	{ColTramo, series.String},
	{ColGiZScore, series.Float},
	{ColFallecidos, series.Float},
	{ColLatitud, series.Float},
	{ColLongitud, series.Float},
	{ColFecha, series.String},
}

// Dataset 已加载并校验的增强数据集，列已改为逻辑名
type Dataset struct {
	Path     string
	LoadedAt time.Time
	df       dataframe.DataFrame
}

// Frame 返回数据集的DataFrame
func (d *Dataset) Frame() dataframe.DataFrame {
	return d.df
}

// MissingDataMessage 数据文件缺失时展示给用户的提示
func MissingDataMessage(path string) string {
	return fmt.Sprintf("No se encontró el archivo en: %s. ¡Ejecuta primero el script de la Etapa 2!", path)
}

// LoadDataset 读取增强数据集并按Schema校验
// 缺列返回 KindSchema，日期无法解析返回 KindParse
func LoadDataset(path string, dcfg *config.DataConfig) (*Dataset, error) {
	types := make(map[string]series.Type, len(Schema))
	for _, col := range Schema {
		types[dcfg.GetColumn(col.Name)] = col.Type
	}

	df, err := file.ReadCSVToDataFrame(path, file.Options{Types: types})
	if err != nil {
		if errors.Is(err, file.ErrNotFound) {
			return nil, newError(KindFileNotFound, StepRead, errors.New(MissingDataMessage(path)))
		}
		return nil, newError(KindParse, StepRead, err)
	}

	physical := make([]string, len(Schema))
	for i, col := range Schema {
		physical[i] = dcfg.GetColumn(col.Name)
	}
	if missing := utils.MissingColumns(df, physical...); len(missing) > 0 {
		return nil, newError(KindSchema, StepRead, fmt.Errorf("%s: faltan columnas %s", path, strings.Join(missing, ", ")))
	}

	for _, col := range Schema {
		if name := dcfg.GetColumn(col.Name); name != col.Name {
			df = df.Rename(col.Name, name)
			if df.Err != nil {
				return nil, newError(KindSchema, StepRead, df.Err)
			}
		}
	}

	df, err = normalizeDates(df, dcfg.DateLayouts)
	if err != nil {
		return nil, newError(KindParse, StepRead, fmt.Errorf("%s: %w", path, err))
	}

	return &Dataset{Path: path, LoadedAt: time.Now(), df: df}, nil
}

// normalizeDates 将日期列统一为可按字典序排序的文本
func normalizeDates(df dataframe.DataFrame, layouts []string) (dataframe.DataFrame, error) {
	col := df.Col(ColFecha)
	values := make([]string, col.Len())
	for i := 0; i < col.Len(); i++ {
		t, err := utils.ParseTime(col.Elem(i), layouts)
		if err != nil {
			return df, fmt.Errorf("fila %d, columna %s: %w", i+1, ColFecha, err)
		}
		if t.IsZero() {
			values[i] = "NaN"
			continue
		}
		values[i] = utils.FormatDate(t)
	}
	df = df.Mutate(series.New(values, series.String, ColFecha))
	return df, df.Err
}
