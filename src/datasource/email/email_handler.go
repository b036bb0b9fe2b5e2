// email_handler.go
package email

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"SiniestralidadVial/src/datasource/file"
	"SiniestralidadVial/src/storage"
	"SiniestralidadVial/src/utils"
)

// ErrNoAttachment 邮件中没有可用的CSV/XLSX附件
var ErrNoAttachment = errors.New("el correo no contiene un adjunto CSV/XLSX")

// AttachmentHandler 把目标邮件的第一个表格附件保存为管道输入文件
type AttachmentHandler struct {
	TargetSubject string       // 目标邮件主题关键词
	InputPath     string       // 管道输入文件路径
	Options       file.Options // 校验附件时使用的读取选项
	logger        *storage.Logger
	processedUIDs map[uint32]bool
	mu            sync.RWMutex
}

func NewAttachmentHandler(subject, inputPath string, opts file.Options, logger *storage.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		InputPath:     inputPath,
		Options:       opts,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

func (h *AttachmentHandler) isProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 处理单个邮件，同一UID只保存一次
func (h *AttachmentHandler) Handle(email *Email) error {
	if h.isProcessed(email.UID) {
		return nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		h.logger.Debug("Correo ignorado, asunto distinto: " + email.Subject)
		return nil
	}

	h.logger.Info(fmt.Sprintf("Procesando correo: %s | De: %s | Fecha: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05")))

	for _, att := range email.Attachments {
		if attachmentExt(att.Filename) == "" {
			continue
		}
		if err := h.save(att); err != nil {
			return err
		}
		h.markAsProcessed(email.UID)
		h.logger.Info(fmt.Sprintf("Adjunto %s guardado en %s", att.Filename, h.InputPath))
		return nil
	}
	return ErrNoAttachment
}

// save 校验附件后写入临时文件再重命名，避免管道读到半个文件
func (h *AttachmentHandler) save(att *Attachment) error {
	if _, err := DecodeAttachment(att, h.Options); err != nil {
		return fmt.Errorf("adjunto %s inválido: %w", att.Filename, err)
	}

	dir := filepath.Dir(h.InputPath)
	if err := file.EnsureDir(dir); err != nil {
		return err
	}

	src, dst := attachmentExt(att.Filename), strings.ToLower(filepath.Ext(h.InputPath))
	tmp := h.InputPath + ".tmp"

	switch {
	case src == dst:
		if err := os.WriteFile(tmp, att.Content, 0644); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("no se pudo guardar el adjunto: %w", err)
		}
	case src == ".xlsx" && dst == ".csv":
		records, err := xlsxToRecords(att.Content, h.Options.SheetName)
		if err != nil {
			return fmt.Errorf("adjunto %s inválido: %w", att.Filename, err)
		}
		if err := utils.WriteCSV(tmp, records); err != nil {
			os.Remove(tmp)
			return err
		}
	default:
		return fmt.Errorf("%w: no se puede convertir %s a %s", ErrUnsupportedAttachment, src, dst)
	}

	if err := os.Rename(tmp, h.InputPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("no se pudo mover el adjunto: %w", err)
	}
	return nil
}
