package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store 单个SQLite文件上的关系存储
type Store struct {
	db   *sqlx.DB
	path string
}

// ResultSet 查询结果，列顺序与表结构一致
type ResultSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Open 打开(或创建)SQLite数据库文件
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库 %s 失败: %w", path, err)
	}
	// 单连接即可，避免同一文件上的写锁竞争
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库 %s 失败: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Path 数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// ReplaceTable 删除旧表并按DataFrame的列重建，数据在同一事务内写入
// 返回写入的行数
func (s *Store) ReplaceTable(ctx context.Context, table string, df dataframe.DataFrame) (int, error) {
	if df.Err != nil {
		return 0, fmt.Errorf("dataframe无效: %w", df.Err)
	}
	names := df.Names()
	if len(names) == 0 {
		return 0, fmt.Errorf("表 %s 没有任何列", table)
	}
	types := df.Types()

	defs := make([]string, len(names))
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = QuoteIdent(name)
		defs[i] = fmt.Sprintf("%s %s", quoted[i], sqlType(types[i]))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return 0, fmt.Errorf("删除表 %s 失败: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("创建表 %s 失败: %w", table, err)
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(names)), ",")
	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer stmt.Close()

	cols := make([]series.Series, len(names))
	for i, name := range names {
		cols[i] = df.Col(name)
	}

	args := make([]interface{}, len(names))
	for row := 0; row < df.Nrow(); row++ {
		for i, col := range cols {
			args[i] = sqlValue(col.Elem(row), types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("插入第 %d 行失败: %w", row+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交事务失败: %w", err)
	}
	return df.Nrow(), nil
}

// TopN 按列降序返回前 limit 行，相同值按写入顺序排列
func (s *Store) TopN(ctx context.Context, table, orderBy string, limit int) (*ResultSet, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC, rowid ASC LIMIT ?",
		QuoteIdent(table), QuoteIdent(orderBy))
	return s.Query(ctx, query, limit)
}

// Query 执行任意查询并读取全部结果
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*ResultSet, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("执行查询失败: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取列名失败: %w", err)
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("读取结果失败: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败: %w", err)
	}
	return result, nil
}

// CountRows 表中的行数
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+QuoteIdent(table)); err != nil {
		return 0, fmt.Errorf("统计表 %s 行数失败: %w", table, err)
	}
	return n, nil
}

// TableColumns 按定义顺序返回表的列名
func (s *Store) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, fmt.Errorf("读取表 %s 结构失败: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Records 将结果转成字符串矩阵(含表头)，NULL写为空串
func (r *ResultSet) Records() [][]string {
	records := make([][]string, 0, len(r.Rows)+1)
	records = append(records, append([]string(nil), r.Columns...))
	for _, row := range r.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = FormatValue(v)
		}
		records = append(records, record)
	}
	return records
}

// FormatValue SQLite值的文本形式
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return string(t)
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

// QuoteIdent 对SQL标识符加双引号
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(t series.Type) string {
	switch t {
	case series.Int, series.Bool:
		return "INTEGER"
	case series.Float:
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqlValue(e series.Element, t series.Type) interface{} {
	if e.IsNA() {
		return nil
	}
	switch t {
	case series.Int:
		v, err := e.Int()
		if err != nil {
			return nil
		}
		return int64(v)
	case series.Float:
		return e.Float()
	case series.Bool:
		v, err := e.Bool()
		if err != nil {
			return nil
		}
		if v {
			return 1
		}
		return 0
	default:
		return e.String()
	}
}
