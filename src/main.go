package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/datapush"
	"SiniestralidadVial/src/datasource/email"
	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/processor"
	"SiniestralidadVial/src/storage"
	"SiniestralidadVial/src/utils"
	"SiniestralidadVial/src/web"
)

const (
	jsonFile     = "config.json"
	dataJsonFile = "dataconfig.json"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:          "siniestros",
		Short:        "Siniestralidad vial: pipeline ETL y tablero de control",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", "./config", "directorio con config.json y dataconfig.json")

	root.AddCommand(pipelineCmd(&configDir), dashboardCmd(&configDir), runsCmd(&configDir))
	return root
}

func pipelineCmd(configDir *string) *cobra.Command {
	var (
		every    time.Duration
		fromMail bool
		strict   bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Carga el CSV en SQLite y exporta el top de sectores por fallecidos",
		Long: `Ejecuta el proceso de tres etapas:
  1. Lee el CSV (o XLSX) de entrada, tratando <Null> como valor faltante
  2. Reemplaza la tabla en la base SQLite
  3. Exporta las 20 filas con más fallecidos a un CSV

Por defecto un fallo se informa y el comando termina con código 0; use --strict
para obtener un código distinto de cero.`,
		Example: `  # Una ejecución con la configuración por defecto
  siniestros pipeline

  # Repetir cada hora hasta Ctrl+C
  siniestros pipeline --every=1h

  # Descargar primero el adjunto más reciente del buzón
  siniestros pipeline --from-mail --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadConfig(*configDir, jsonFile, dataJsonFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("every") {
				cfg.Pipeline.Schedule = config.Duration(every)
			}
			cfg.Pipeline.FromMail = cfg.Pipeline.FromMail || fromMail
			cfg.Pipeline.StrictExitErr = cfg.Pipeline.StrictExitErr || strict

			logger, err := storage.NewLogger(cfg.LogName, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("no se pudo iniciar el log: %w", err)
			}
			defer logger.Close()
			defer reopenOnHangup(logger)()

			return newPipelineRunner(cfg, logger, cmd.OutOrStdout()).serve(cmd.Context())
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "repetir el pipeline con este intervalo (0 = una vez)")
	cmd.Flags().BoolVar(&fromMail, "from-mail", false, "descargar la entrada desde el buzón IMAP antes de ejecutar")
	cmd.Flags().BoolVar(&strict, "strict", false, "terminar con código distinto de cero si el pipeline falla")
	return cmd
}

func dashboardCmd(configDir *string) *cobra.Command {
	var (
		listen  string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Sirve el tablero interactivo de siniestralidad vial",
		Example: `  siniestros dashboard --listen=:8080
  siniestros dashboard --no-watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dcfg, err := config.LoadConfig(*configDir, jsonFile, dataJsonFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Dashboard.Listen = listen
			}
			if noWatch {
				cfg.Dashboard.Watch = false
			}

			logger, err := storage.NewLogger(cfg.LogName, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("no se pudo iniciar el log: %w", err)
			}
			defer logger.Close()
			defer reopenOnHangup(logger)()

			return web.NewServer(cfg, dcfg, logger).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "dirección HTTP (por defecto dashboard.listen)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "no vigilar el archivo de datos; la primera carga se conserva")
	return cmd
}

func runsCmd(configDir *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Muestra las últimas ejecuciones registradas del pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadConfig(*configDir, jsonFile, dataJsonFile)
			if err != nil {
				return err
			}
			return printRuns(cmd.Context(), cfg, limit, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "número de ejecuciones a mostrar")
	return cmd
}

// printRuns 以表格输出运行日志表中最近的记录
func printRuns(ctx context.Context, cfg *config.Config, limit int, out io.Writer) error {
	if cfg.Pipeline.RunLogTable == "" {
		return fmt.Errorf("pipeline.run_log_table no está configurado")
	}
	if _, err := os.Stat(cfg.DBPath()); err != nil {
		return fmt.Errorf("base de datos no disponible: %w", err)
	}

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.LastRuns(ctx, cfg.Pipeline.RunLogTable, limit)
	if err != nil {
		return err
	}

	records := [][]string{{"inicio", "estado", "cargadas", "exportadas", "segundos", "error"}}
	for _, run := range runs {
		records = append(records, []string{
			run.StartTime.Local().Format("2006-01-02 15:04:05"),
			string(run.Status),
			strconv.Itoa(run.RowsLoaded),
			strconv.Itoa(run.RowsExported),
			strconv.FormatFloat(run.DurationSecs, 'f', 2, 64),
			run.ErrorKind,
		})
	}
	utils.PrintTable(out, fmt.Sprintf("Últimas %d ejecuciones", len(runs)), records)
	return nil
}

// pipelineRunner 一次或定时执行管道，并处理邮件输入、控制台输出与通知
type pipelineRunner struct {
	cfg      *config.Config
	logger   *storage.Logger
	out      io.Writer
	pipeline *processor.Pipeline
	notifier *datapush.Notifier
	mail     email.MailService
	handler  email.EmailHandler
	running  sync.Mutex
}

func newPipelineRunner(cfg *config.Config, logger *storage.Logger, out io.Writer) *pipelineRunner {
	r := &pipelineRunner{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		pipeline: processor.NewPipeline(cfg, logger),
		notifier: datapush.NewNotifier(cfg),
	}
	if cfg.Pipeline.FromMail {
		r.mail = email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
		r.handler = email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.Pipeline.InputPath, file.Options{
			NullValues: []string{cfg.Pipeline.NullValue},
			Encoding:   cfg.Pipeline.Encoding,
			SheetName:  cfg.Pipeline.SheetName,
		}, logger)
	}
	return r
}

// serve 未配置间隔时只运行一次，否则立即运行并按间隔重复直到ctx取消
func (r *pipelineRunner) serve(ctx context.Context) error {
	interval := time.Duration(r.cfg.Pipeline.Schedule)
	if interval <= 0 {
		return r.runOnce(ctx)
	}

	c := cron.New()
	cronSpec := fmt.Sprintf("@every %s", interval)
	if err := c.AddFunc(cronSpec, func() { r.runOnce(ctx) }); err != nil {
		return fmt.Errorf("no se pudo programar el pipeline: %w", err)
	}

	r.runOnce(ctx)
	c.Start()
	defer c.Stop()

	r.logger.Info(fmt.Sprintf("Pipeline programado (%s), Ctrl+C para salir", cronSpec))
	<-ctx.Done()
	r.logger.Info("Señal recibida, deteniendo el pipeline programado")
	return nil
}

// runOnce 上一次还在运行时跳过
func (r *pipelineRunner) runOnce(ctx context.Context) error {
	if !r.running.TryLock() {
		r.logger.Warning("Ejecución anterior en curso, se omite esta")
		return nil
	}
	defer r.running.Unlock()

	if r.mail != nil {
		r.fetchInput()
	}

	res, err := r.pipeline.Run(ctx)
	if err != nil {
		utils.PrintStatus(r.out, false, fmt.Sprintf("--- ¡ERROR! --- %v", err))
	} else {
		utils.PrintStatus(r.out, true, fmt.Sprintf("¡Éxito! %d filas cargadas, %d exportadas a %s", res.RowsLoaded, res.RowsExported, res.ExportPath))
		utils.PrintTable(r.out, fmt.Sprintf("Top %d sectores por %s", r.cfg.Pipeline.Limit, r.cfg.Pipeline.SortColumn), res.Top.Records())
		r.mailExport(res)
	}

	if r.notifier != nil {
		if nerr := r.notifier.NotifyRun(ctx, res, err); nerr != nil {
			r.logger.Warning("No se pudo enviar la notificación: " + nerr.Error())
		}
	}
	if rerr := r.logger.CheckRotate(r.cfg.LogMaxSize); rerr != nil {
		r.logger.Warning("No se pudo rotar el log: " + rerr.Error())
	}

	if err != nil && r.cfg.Pipeline.StrictExitErr {
		return err
	}
	return nil
}

// fetchInput 邮箱中有新附件时覆盖输入文件，失败时继续使用现有文件
func (r *pipelineRunner) fetchInput() {
	msg, err := email.CheckAndProcessEmails(r.mail, r.cfg.Email.TargetSubject, r.logger)
	if err != nil {
		r.logger.Warning("No se pudo revisar el correo, se usa el archivo existente: " + err.Error())
		return
	}
	if msg == nil {
		return
	}
	if err := r.handler.Handle(msg); err != nil {
		r.logger.Warning(fmt.Sprintf("Correo UID %d no aplicado: %v", msg.UID, err))
	}
}

func (r *pipelineRunner) mailExport(res *processor.Result) {
	if r.cfg.SendEmail.Server == "" {
		return
	}
	_, body := datapush.RunSummary(res, nil)
	if err := email.SendExport(r.cfg, res.ExportPath, body); err != nil {
		r.logger.Warning("No se pudo enviar la exportación por correo: " + err.Error())
		return
	}
	r.logger.Info(fmt.Sprintf("Exportación enviada a %v", r.cfg.SendEmail.To))
}

// reopenOnHangup 收到SIGHUP时重新打开日志文件(配合logrotate)，返回停止函数
func reopenOnHangup(logger *storage.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigChan:
				if err := logger.Reopen(); err != nil {
					logger.Error("No se pudo reabrir el log: " + err.Error())
					continue
				}
				logger.Info("Log reabierto tras SIGHUP")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
		})
	}
}
