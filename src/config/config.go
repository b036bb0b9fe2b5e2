package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Pipeline struct {
		InputPath     string   `json:"input_path"`     // 原始CSV/XLSX路径
		SheetName     string   `json:"sheet_name"`     // XLSX输入时使用的工作表
		OutputDir     string   `json:"output_dir"`     // 数据库与导出文件目录
		DBName        string   `json:"db_name"`        // SQLite文件名
		ExportName    string   `json:"export_name"`    // 导出CSV文件名
		TableName     string   `json:"table_name"`     // 目标表
		SortColumn    string   `json:"sort_column"`    // 排序列(死亡人数)
		Limit         int      `json:"limit"`          // Top-N
		NullValue     string   `json:"null_value"`     // 空值占位符
		Encoding      string   `json:"encoding"`       // 输入文件编码
		XLSXExport    bool     `json:"xlsx_export"`    // 是否同时导出xlsx
		RunLogTable   string   `json:"run_log_table"`  // 运行日志表，为空则不记录
		Schedule      Duration `json:"schedule"`       // 定时运行间隔，0表示只运行一次
		FromMail      bool     `json:"from_mail"`      // 运行前从邮箱拉取输入文件
		StrictExitErr bool     `json:"strict_exit"`    // 失败时返回非零退出码
	} `json:"pipeline"`

	Dashboard struct {
		DataPath string `json:"data_path"` // 增强数据集路径
		Listen   string `json:"listen"`    // HTTP监听地址
		Watch    bool   `json:"watch"`     // 文件变化时刷新缓存
	} `json:"dashboard"`

	Email struct {
		Server        string `json:"server"`         // IMAP服务器地址
		Username      string `json:"username"`       // 邮箱用户名
		Password      string `json:"password"`       // 邮箱密码
		TargetSubject string `json:"target_subject"` // 需要匹配的邮件主题
	} `json:"email"`

	SendEmail struct {
		Server   string   `json:"server"`   // SMTP服务器地址
		Username string   `json:"username"` // 发件人
		Password string   `json:"password"` // 密码
		To       []string `json:"to"`       // 收件人
		Subject  string   `json:"subject"`  // 邮件主题
	} `json:"send_email"`

	Notify struct {
		Webhook       string   `json:"webhook"`        // 钉钉机器人地址，为空则不推送
		Secret        string   `json:"secret"`         // 加签密钥
		Retries       int      `json:"retries"`        // 失败重试次数
		RetryInterval Duration `json:"retry_interval"` // 重试间隔
	} `json:"notify"`

	LogName    string `json:"log_name"`     // 日志文件路径
	LogMaxSize string `json:"log_max_size"` // 超过后轮转，如 "10 * 1024 * 1024"
}

// DataConfig 增强数据集的列映射与看板参数
type DataConfig struct {
	Columns            map[string]string `json:"columns"`
	DateLayouts        []string          `json:"date_layouts"`
	DefaultDepartments int               `json:"default_departments"`
	TopMunicipios      int               `json:"top_municipios"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
)

// LoadConfig 只加载一次配置，后续调用返回同一实例
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = Load(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

// Load 读取两份配置文件并应用环境变量覆盖
func Load(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	cfg, dcfg, err := loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		return nil, nil, err
	}

	// .env不存在时忽略
	_ = godotenv.Load(filepath.Join(jsonFolder, ".env"))
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	dcfg.fillDefaults()
	return cfg, dcfg, nil
}

// Default 返回内置默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.Pipeline.InputPath = "data/SECTORES_CRITICOS_DE_SINIESTRALIDAD_VIAL_20251109.csv"
	cfg.Pipeline.SheetName = ""
	cfg.Pipeline.OutputDir = "db"
	cfg.Pipeline.DBName = "proyecto.db"
	cfg.Pipeline.ExportName = "export.csv"
	cfg.Pipeline.TableName = "sectores_criticos"
	cfg.Pipeline.SortColumn = "Fallecidos"
	cfg.Pipeline.Limit = 20
	cfg.Pipeline.NullValue = "<Null>"
	cfg.Pipeline.Encoding = "utf-8"
	cfg.Pipeline.RunLogTable = "etl_runs"

	cfg.Dashboard.DataPath = "data/dataset_enriquecido.csv"
	cfg.Dashboard.Listen = ":8080"
	cfg.Dashboard.Watch = true

	cfg.Email.TargetSubject = "SECTORES_CRITICOS"
	cfg.SendEmail.Subject = "Top sectores críticos"
	cfg.Notify.Retries = 3
	cfg.Notify.RetryInterval = Duration(2 * time.Second)

	cfg.LogName = "app.log"
	cfg.LogMaxSize = "10 * 1024 * 1024"
	return cfg
}

// DefaultDataConfig 返回增强数据集的默认列映射
func DefaultDataConfig() *DataConfig {
	dcfg := &DataConfig{}
	dcfg.fillDefaults()
	return dcfg
}

// DBPath 数据库完整路径
func (c *Config) DBPath() string {
	return filepath.Join(c.Pipeline.OutputDir, c.Pipeline.DBName)
}

// ExportPath 导出CSV完整路径
func (c *Config) ExportPath() string {
	return filepath.Join(c.Pipeline.OutputDir, c.Pipeline.ExportName)
}

// Validate 汇总所有配置错误
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Pipeline.InputPath == "" {
		result = multierror.Append(result, errors.New("pipeline.input_path 不能为空"))
	}
	if c.Pipeline.OutputDir == "" {
		result = multierror.Append(result, errors.New("pipeline.output_dir 不能为空"))
	}
	if c.Pipeline.TableName == "" {
		result = multierror.Append(result, errors.New("pipeline.table_name 不能为空"))
	}
	if c.Pipeline.SortColumn == "" {
		result = multierror.Append(result, errors.New("pipeline.sort_column 不能为空"))
	}
	if c.Pipeline.Limit <= 0 {
		result = multierror.Append(result, fmt.Errorf("pipeline.limit 必须大于0, 当前为 %d", c.Pipeline.Limit))
	}
	if c.Pipeline.RunLogTable != "" && c.Pipeline.RunLogTable == c.Pipeline.TableName {
		result = multierror.Append(result, errors.New("pipeline.run_log_table 不能与 table_name 相同"))
	}
	switch strings.ToLower(c.Pipeline.Encoding) {
	case "", "utf-8", "utf8", "latin1", "iso-8859-1", "windows-1252", "cp1252":
	default:
		result = multierror.Append(result, fmt.Errorf("pipeline.encoding 不支持: %s", c.Pipeline.Encoding))
	}
	if time.Duration(c.Pipeline.Schedule) < 0 {
		result = multierror.Append(result, errors.New("pipeline.schedule 不能为负数"))
	}
	if c.Notify.Retries < 0 {
		result = multierror.Append(result, errors.New("notify.retries 不能为负数"))
	}
	if c.Dashboard.DataPath == "" {
		result = multierror.Append(result, errors.New("dashboard.data_path 不能为空"))
	}
	return result.ErrorOrNil()
}

// applyEnv 使用 SINIESTROS_* 环境变量覆盖路径
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"SINIESTROS_INPUT_PATH":     &c.Pipeline.InputPath,
		"SINIESTROS_OUTPUT_DIR":     &c.Pipeline.OutputDir,
		"SINIESTROS_TABLE_NAME":     &c.Pipeline.TableName,
		"SINIESTROS_DASHBOARD_DATA": &c.Dashboard.DataPath,
		"SINIESTROS_LISTEN":         &c.Dashboard.Listen,
		"SINIESTROS_IMAP_PASSWORD":  &c.Email.Password,
		"SINIESTROS_SMTP_PASSWORD":  &c.SendEmail.Password,
		"SINIESTROS_NOTIFY_WEBHOOK": &c.Notify.Webhook,
		"SINIESTROS_NOTIFY_SECRET":  &c.Notify.Secret,
	}
	for key, target := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*target = v
		}
	}
}

func (dc *DataConfig) fillDefaults() {
	mu.Lock()
	defer mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = map[string]string{}
	}
	for _, name := range []string{"anio", "departamento", "municipio", "tramo", "gizscore", "fallecidos", "latitud", "longitud", "fecha"} {
		if dc.Columns[name] == "" {
			dc.Columns[name] = name
		}
	}
	if len(dc.DateLayouts) == 0 {
		dc.DateLayouts = []string{
			"2006-01-02",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006/01/02",
			"02/01/2006",
			"2006-01",
		}
	}
	if dc.DefaultDepartments <= 0 {
		dc.DefaultDepartments = 5
	}
	if dc.TopMunicipios <= 0 {
		dc.TopMunicipios = 10
	}
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	return waitForResults(cfgChan, dcfgChan, errChan)
}

// readFile 文件不存在时返回nil，使用默认配置
func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	cfg := Default()
	if len(data) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			errChan <- fmt.Errorf("解析Config失败: %w", err)
			return
		}
	}
	resultChan <- cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if len(data) > 0 {
		if err := json.Unmarshal(data, &dcfg); err != nil {
			errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
			return
		}
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs *multierror.Error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, nil, err
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// GetColumn 返回逻辑列名对应的实际列名
func (dc *DataConfig) GetColumn(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	if col, ok := dc.Columns[name]; ok && col != "" {
		return col
	}
	return name
}

// SetColumn 修改列映射
func (dc *DataConfig) SetColumn(name, column string) {
	mu.Lock()
	defer mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = map[string]string{}
	}
	dc.Columns[name] = column
}
