package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/processor"
	"SiniestralidadVial/src/storage"

	"github.com/gorilla/mux"
)

// Server 交互式看板
type Server struct {
	cfg    *config.Config
	dcfg   *config.DataConfig
	cache  *processor.DatasetCache
	hub    *Hub
	logger *storage.Logger
	router *mux.Router
	page   *template.Template
}

// pageData 页面模板数据，Report为nil时只显示错误
type pageData struct {
	Error   string
	Options processor.Options
	Filter  processor.Filter
	Report  *processor.Report
	Expand  bool
	Query   template.URL
}

func NewServer(cfg *config.Config, dcfg *config.DataConfig, logger *storage.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		dcfg:   dcfg,
		cache:  processor.NewDatasetCache(cfg.Dashboard.DataPath, dcfg, cfg.Dashboard.Watch),
		hub:    NewHub(logger),
		logger: logger,
		page:   template.Must(template.New("dashboard").Funcs(templateFuncs).Parse(pageTemplate)),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/api/options", s.handleOptions).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.HandleConnections)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	return r
}

// Handler 路由
func (s *Server) Handler() http.Handler {
	return s.router
}

// Reload 数据文件变化时清空缓存并通知浏览器刷新
func (s *Server) Reload(path string) {
	s.cache.Invalidate()
	s.hub.Broadcast([]byte("reload"))
	s.logger.Info(fmt.Sprintf("Archivo %s modificado, caché invalidada.", path))
}

// Run 启动HTTP服务，ctx取消时优雅退出
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Dashboard.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.cfg.Dashboard.Watch {
		s.watch(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("Dashboard escuchando en %s", s.cfg.Dashboard.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) watch(ctx context.Context) {
	monitor, err := file.NewFileMonitor(s.cfg.Dashboard.DataPath)
	if err != nil {
		s.logger.Warning(fmt.Sprintf("No se puede vigilar %s: %v", s.cfg.Dashboard.DataPath, err))
		return
	}
	go func() {
		if err := monitor.Watch(ctx, s.Reload); err != nil {
			s.logger.Error("Error vigilando el archivo de datos: " + err.Error())
		}
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ds, err := s.cache.Get()
	if err != nil {
		s.logger.Error(err.Error())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusFor(err))
		s.render(w, pageData{Error: userMessage(err)})
		return
	}

	opts := ds.Options(s.dcfg.DefaultDepartments)
	f, err := parseFilter(r.URL.Query(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	expand := r.URL.Query().Get("detalle") == "1"

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.render(w, pageData{
		Options: opts,
		Filter:  f,
		Report:  processor.BuildReport(ds.Apply(f), f, s.dcfg.TopMunicipios, expand),
		Expand:  expand,
		Query:   template.URL(filterQuery(f).Encode()),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ds, err := s.cache.Get()
	if err != nil {
		s.logger.Error(err.Error())
		writeJSON(w, statusFor(err), map[string]string{"error": userMessage(err)})
		return
	}

	f, err := parseFilter(r.URL.Query(), ds.Options(s.dcfg.DefaultDepartments))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	expand := r.URL.Query().Get("detalle") == "1"
	writeJSON(w, http.StatusOK, processor.BuildReport(ds.Apply(f), f, s.dcfg.TopMunicipios, expand))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.cache.Get()
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": userMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, ds.Options(s.dcfg.DefaultDepartments))
}

// handleLogs 实时输出日志
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		select {
		case msg := <-logChan:
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) render(w http.ResponseWriter, data pageData) {
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("Error renderizando el dashboard: " + err.Error())
	}
}

// parseFilter 未提交表单(aplicar为空)时使用默认过滤
// 提交后空的多选表示不过滤
func parseFilter(q url.Values, opts processor.Options) (processor.Filter, error) {
	if q.Get("aplicar") == "" {
		return opts.Default, nil
	}

	var f processor.Filter
	for _, v := range q["anio"] {
		if v == "" {
			continue
		}
		year, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("año inválido: %q", v)
		}
		f.Years = append(f.Years, year)
	}
	for _, v := range q["departamento"] {
		if v != "" {
			f.Departments = append(f.Departments, v)
		}
	}
	return f, nil
}

func filterQuery(f processor.Filter) url.Values {
	q := url.Values{"aplicar": {"1"}}
	for _, y := range f.Years {
		q.Add("anio", strconv.Itoa(y))
	}
	for _, d := range f.Departments {
		q.Add("departamento", d)
	}
	return q
}

func statusFor(err error) int {
	if processor.IsKind(err, processor.KindFileNotFound) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func userMessage(err error) string {
	var pe *processor.Error
	if errors.As(err, &pe) && pe.Kind == processor.KindFileNotFound {
		return pe.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
