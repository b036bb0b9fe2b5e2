package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strings"

	"github.com/jordan-wright/email"

	"SiniestralidadVial/src/config"
)

// BuildExportMessage 组装带导出文件附件的邮件
func BuildExportMessage(c *config.Config, attachmentPath, body string) (*email.Email, error) {
	if len(c.SendEmail.To) == 0 {
		return nil, errors.New("send_email.to vacío")
	}
	if _, err := os.Stat(attachmentPath); err != nil {
		return nil, fmt.Errorf("adjunto no encontrado: %w", err)
	}

	e := email.NewEmail()
	e.From = c.SendEmail.Username
	e.To = c.SendEmail.To
	e.Subject = c.SendEmail.Subject
	e.Text = []byte(body)
	if _, err := e.AttachFile(attachmentPath); err != nil {
		return nil, fmt.Errorf("no se pudo adjuntar %s: %w", attachmentPath, err)
	}
	return e, nil
}

// SendExport 通过SMTP(隐式TLS)发送导出文件
func SendExport(c *config.Config, attachmentPath, body string) error {
	e, err := BuildExportMessage(c, attachmentPath, body)
	if err != nil {
		return err
	}

	// 确保服务器地址包含端口
	smtpAddr := c.SendEmail.Server
	if !strings.Contains(smtpAddr, ":") {
		smtpAddr += ":465"
	}
	host, _, err := net.SplitHostPort(smtpAddr)
	if err != nil {
		return fmt.Errorf("send_email.server inválido: %w", err)
	}

	err = e.SendWithTLS(
		smtpAddr,
		smtp.PlainAuth("", c.SendEmail.Username, c.SendEmail.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("envío de correo fallido (%s): %w", smtpAddr, err)
	}
	return nil
}
