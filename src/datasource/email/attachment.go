package email

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"

	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/utils"
)

// ErrUnsupportedAttachment 附件不是CSV/XLSX
var ErrUnsupportedAttachment = errors.New("adjunto no soportado")

// dateKeywords 可能保存Excel日期序列号的列
var dateKeywords = []string{"fecha", "date"}

// attachmentExt 返回小写扩展名，非表格附件返回空串
func attachmentExt(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".xlsx":
		return ext
	default:
		return ""
	}
}

// DecodeAttachment 按扩展名解析附件，用于保存前校验内容
func DecodeAttachment(att *Attachment, opts file.Options) (dataframe.DataFrame, error) {
	switch attachmentExt(att.Filename) {
	case ".csv":
		return file.ReadCSV(bytes.NewReader(att.Content), opts)
	case ".xlsx":
		return file.ReadXLSXBytes(att.Content, opts)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, att.Filename)
	}
}

// xlsxToRecords 工作表转为CSV记录，日期列中的Excel序列号转为日期文本
func xlsxToRecords(data []byte, sheetName string) ([][]string, error) {
	records, err := file.XLSXRecords(data, sheetName)
	if err != nil {
		return nil, err
	}
	if len(records) == 1 {
		return records, nil
	}

	// 全部按字符串读取，保留原始文本(包括"<Null>")
	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
	)
	if df.Err != nil {
		return nil, df.Err
	}

	for _, col := range findDateColumns(df.Names()) {
		df = df.Mutate(series.New(df.Col(col).Map(excelToDate), series.String, col))
	}
	if df.Err != nil {
		return nil, df.Err
	}
	return df.Records(), nil
}

func findDateColumns(names []string) []string {
	var cols []string
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, kw := range dateKeywords {
			if strings.Contains(lower, kw) {
				cols = append(cols, name)
				break
			}
		}
	}
	return cols
}

// excelToDate Excel日期序列号转为 2006-01-02 文本，其他值原样返回
func excelToDate(e series.Element) series.Element {
	serial, err := strconv.ParseFloat(strings.TrimSpace(e.String()), 64)
	if err != nil || serial <= 0 {
		return e
	}

	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return e
	}

	out := e.Copy()
	out.Set(utils.FormatDate(t))
	return out
}
