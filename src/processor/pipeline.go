package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/storage"
	"SiniestralidadVial/src/utils"

	"github.com/google/uuid"
)

// 管道步骤名
const (
	StepEnsureDir = "ensure-dir"
	StepRead      = "read"
	StepLoad      = "load"
	StepQuery     = "query"
	StepExport    = "export"
)

// Pipeline 读取原始CSV → 替换SQLite表 → 查询Top-N → 导出CSV
type Pipeline struct {
	cfg    *config.Config
	logger *storage.Logger
	now    func() time.Time
	newID  func() string
}

// Result 一次运行的结果
type Result struct {
	RunID        string
	StartTime    time.Time
	Duration     time.Duration
	InputPath    string
	Checksum     string
	Columns      []string
	RowsLoaded   int
	RowsExported int
	Top          *storage.ResultSet
	DBPath       string
	ExportPath   string
	XLSXPath     string
}

func NewPipeline(cfg *config.Config, logger *storage.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run 执行一次完整流程，任何一步失败都终止后续步骤
// 错误只在这里统一记录一次，返回值为 *Error
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:      p.newID(),
		StartTime:  p.now(),
		InputPath:  p.cfg.Pipeline.InputPath,
		DBPath:     p.cfg.DBPath(),
		ExportPath: p.cfg.ExportPath(),
	}

	p.logger.Info(fmt.Sprintf("--- Iniciando el Proceso (run %s) ---", res.RunID))
	err := p.run(ctx, res)
	res.Duration = p.now().Sub(res.StartTime)

	if err != nil {
		p.logger.Error(fmt.Sprintf("--- ¡ERROR! --- Ocurrió un error durante la ejecución: %v", err))
	} else {
		p.logger.Info(fmt.Sprintf("¡Éxito! Archivo exportado guardado en: %s (%v)", res.ExportPath, res.Duration))
	}

	p.recordRun(ctx, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	pc := p.cfg.Pipeline

	// 1. 输出目录
	if err := file.EnsureDir(pc.OutputDir); err != nil {
		return newError(KindStore, StepEnsureDir, err)
	}
	p.logger.Info(fmt.Sprintf("Directorio '%s' asegurado.", pc.OutputDir))

	// 2. 读取原始数据，<Null> 视为缺失值
	checksum, err := file.GetFileChecksum(pc.InputPath)
	if err != nil {
		return readError(err)
	}
	res.Checksum = checksum

	df, err := file.ReadToDataFrame(pc.InputPath, file.Options{
		NullValues: []string{pc.NullValue},
		Encoding:   pc.Encoding,
		SheetName:  pc.SheetName,
	})
	if err != nil {
		return readError(err)
	}
	res.Columns = df.Names()
	p.logger.Info(fmt.Sprintf("Dataset original '%s' cargado: %d filas, %d columnas.", pc.InputPath, df.Nrow(), df.Ncol()))

	if !utils.HasColumn(df, pc.SortColumn) {
		return newError(KindSchema, StepRead, fmt.Errorf("columna %q no encontrada en %s (columnas: %s)",
			pc.SortColumn, pc.InputPath, strings.Join(df.Names(), ", ")))
	}

	// 3. 替换目标表
	err = withStore(res.DBPath, func(s *storage.Store) error {
		n, err := s.ReplaceTable(ctx, pc.TableName, df)
		res.RowsLoaded = n
		return err
	})
	if err != nil {
		return newError(KindStore, StepLoad, err)
	}
	p.logger.Info(fmt.Sprintf("Datos cargados exitosamente en la tabla '%s' de la BD '%s'.", pc.TableName, res.DBPath))

	// 4. 重新连接并查询Top-N
	err = withStore(res.DBPath, func(s *storage.Store) error {
		top, err := s.TopN(ctx, pc.TableName, pc.SortColumn, pc.Limit)
		res.Top = top
		return err
	})
	if err != nil {
		return newError(KindStore, StepQuery, err)
	}
	res.RowsExported = len(res.Top.Rows)
	p.logger.Info(fmt.Sprintf("Consulta exitosa. Se obtuvieron %d filas (Top %d).", res.RowsExported, pc.Limit))

	// 5. 导出
	records := res.Top.Records()
	if err := utils.WriteCSV(res.ExportPath, records); err != nil {
		return newError(KindExport, StepExport, err)
	}
	if pc.XLSXExport {
		res.XLSXPath = strings.TrimSuffix(res.ExportPath, filepath.Ext(res.ExportPath)) + ".xlsx"
		if err := utils.SaveToExcel(records, res.XLSXPath, pc.TableName); err != nil {
			return newError(KindExport, StepExport, err)
		}
	}
	return nil
}

// recordRun 写运行日志表，失败只记警告
func (p *Pipeline) recordRun(ctx context.Context, res *Result, runErr error) {
	table := p.cfg.Pipeline.RunLogTable
	// 输出目录不可用时数据库也无法打开
	if table == "" || stepOf(runErr) == StepEnsureDir {
		return
	}

	entry := storage.RunLog{
		ID:            res.RunID,
		StartTime:     res.StartTime,
		EndTime:       res.StartTime.Add(res.Duration),
		Status:        storage.RunSuccess,
		InputPath:     res.InputPath,
		InputChecksum: res.Checksum,
		RowsLoaded:    res.RowsLoaded,
		RowsExported:  res.RowsExported,
		DurationSecs:  res.Duration.Seconds(),
	}
	if runErr != nil {
		entry.Status = storage.RunFailed
		entry.ErrorKind = string(KindOf(runErr))
		entry.ErrorMessage = runErr.Error()
	}

	err := withStore(res.DBPath, func(s *storage.Store) error {
		if err := s.EnsureRunLog(ctx, table); err != nil {
			return err
		}
		return s.InsertRunLog(ctx, table, entry)
	})
	if err != nil {
		p.logger.Warning(fmt.Sprintf("No se pudo registrar la ejecución %s: %v", res.RunID, err))
	}
}

func readError(err error) error {
	if errors.Is(err, file.ErrNotFound) {
		return newError(KindFileNotFound, StepRead, err)
	}
	return newError(KindParse, StepRead, err)
}

func stepOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Step
	}
	return ""
}

// withStore 打开连接，执行fn后立即关闭
func withStore(path string, fn func(*storage.Store) error) error {
	s, err := storage.Open(path)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}
