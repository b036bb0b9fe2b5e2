// reader.go
package file

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNotFound 输入文件不存在
var ErrNotFound = errors.New("file not found")

// defaultNaN 常见的缺失值标记，空单元格同样视为缺失
var defaultNaN = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null", "<nil>",
}

// Options 读取选项
type Options struct {
	NullValues []string               // 额外视为缺失值的字面量，如 "<Null>"
	Encoding   string                 // utf-8 / latin1 / windows-1252
	SheetName  string                 // xlsx工作表，为空时取第一个
	Types      map[string]series.Type // 声明的列类型，其余列自动推断
}

// ReadToDataFrame 按扩展名读取CSV或XLSX
func ReadToDataFrame(filePath string, opts Options) (dataframe.DataFrame, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		return ReadXLSXToDataFrame(filePath, opts)
	}
	return ReadCSVToDataFrame(filePath, opts)
}

// ReadCSVToDataFrame 读取CSV文件，自动推断列类型
func ReadCSVToDataFrame(filePath string, opts Options) (dataframe.DataFrame, error) {
	f, err := openInput(filePath)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	defer f.Close()

	df, err := ReadCSV(f, opts)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("failed to parse csv %s: %w", filePath, err)
	}
	return df, nil
}

// ReadCSV 从任意reader读取CSV
func ReadCSV(r io.Reader, opts Options) (dataframe.DataFrame, error) {
	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	records, err := csv.NewReader(decoded).ReadAll()
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return loadRecords(records, opts)
}

// ReadXLSXToDataFrame 读取xlsx文件，第一行为表头
func ReadXLSXToDataFrame(filePath string, opts Options) (dataframe.DataFrame, error) {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dataframe.DataFrame{}, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return dataframe.DataFrame{}, err
	}

	// 1. 使用tealeg/xlsx打开Excel文件
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file false: %w", err)
	}

	df, err := workbookToDataFrame(xlFile, opts)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%s: %w", filePath, err)
	}
	return df, nil
}

// ReadXLSXBytes 读取内存中的xlsx内容(邮件附件)
func ReadXLSXBytes(data []byte, opts Options) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open binary false: %w", err)
	}
	return workbookToDataFrame(xlFile, opts)
}

func workbookToDataFrame(xlFile *xlsx.File, opts Options) (dataframe.DataFrame, error) {
	records, err := workbookRecords(xlFile, opts.SheetName)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	// 3. 转换为Gota DataFrame
	return loadRecords(records, opts)
}

// loadRecords 只有表头时返回零行DataFrame
func loadRecords(records [][]string, opts Options) (dataframe.DataFrame, error) {
	if len(records) == 1 {
		return emptyFrame(records[0], opts.Types)
	}
	df := dataframe.LoadRecords(records, loadOptions(opts)...)
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

// emptyFrame 未声明类型的列按String建列
func emptyFrame(headers []string, types map[string]series.Type) (dataframe.DataFrame, error) {
	cols := make([]series.Series, len(headers))
	for i, name := range headers {
		t, ok := types[name]
		if !ok {
			t = series.String
		}
		cols[i] = series.New([]string{}, t, name)
	}
	df := dataframe.New(cols...)
	return df, df.Err
}

// XLSXRecords 返回工作表的原始单元格文本，第一行为表头
func XLSXRecords(data []byte, sheetName string) ([][]string, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("xlsx open binary false: %w", err)
	}
	return workbookRecords(xlFile, sheetName)
}

func workbookRecords(xlFile *xlsx.File, sheetName string) ([][]string, error) {
	// 2. 获取工作表
	if len(xlFile.Sheets) == 0 {
		return nil, errors.New("excel文件中没有工作表")
	}
	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return nil, fmt.Errorf("工作表 %s 不存在", sheetName)
		}
		sheet = s
	}

	records := sheetRecords(sheet)
	if len(records) == 0 {
		return nil, fmt.Errorf("工作表 %s 为空", sheet.Name)
	}
	return records, nil
}

// sheetRecords 将xlsx.Sheet转换为字符串矩阵，短行补齐到表头宽度
func sheetRecords(sheet *xlsx.Sheet) [][]string {
	if sheet == nil || len(sheet.Rows) == 0 {
		return nil
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.String()))
	}
	if len(headers) == 0 {
		return nil
	}

	records := [][]string{headers}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		record := make([]string, len(headers))
		empty := true
		for i, cell := range row.Cells {
			if i < len(headers) { // 确保不超出列数范围
				record[i] = cell.String()
				if record[i] != "" {
					empty = false
				}
			}
		}
		if !empty {
			records = append(records, record)
		}
	}
	return records
}

func loadOptions(opts Options) []dataframe.LoadOption {
	nan := append(append([]string{}, defaultNaN...), opts.NullValues...)
	options := []dataframe.LoadOption{dataframe.NaNValues(nan)}
	if len(opts.Types) > 0 {
		options = append(options, dataframe.WithTypes(opts.Types))
	}
	return options
}

func openInput(filePath string) (*os.File, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	return f, nil
}

// decodeReader 按编码转为UTF-8，UTF-8输入去掉BOM
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

// EnsureDir 确保目录存在
func EnsureDir(dirPath string) error {
	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}
	return os.MkdirAll(dirPath, 0755)
}
