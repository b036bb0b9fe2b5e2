package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"SiniestralidadVial/src/config"
	"SiniestralidadVial/src/processor"
)

// 摘要中列出的最多行数
const summaryRows = 5

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// markdownMessage 机器人markdown消息
type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

// Notifier 通过钉钉群机器人推送管道运行结果
type Notifier struct {
	webhook  string
	secret   string
	retries  int
	interval time.Duration
	client   *http.Client
	now      func() time.Time
}

// NewNotifier webhook为空时返回nil，调用方据此跳过推送
func NewNotifier(cfg *config.Config) *Notifier {
	if cfg.Notify.Webhook == "" {
		return nil
	}
	retries := cfg.Notify.Retries
	if retries < 1 {
		retries = 1
	}
	return &Notifier{
		webhook:  cfg.Notify.Webhook,
		secret:   cfg.Notify.Secret,
		retries:  retries,
		interval: time.Duration(cfg.Notify.RetryInterval),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// NotifyRun 推送一次运行的摘要
func (n *Notifier) NotifyRun(ctx context.Context, res *processor.Result, runErr error) error {
	title, text := RunSummary(res, runErr)
	return n.Send(ctx, title, text)
}

// Send 发送markdown消息，失败按配置重试
func (n *Notifier) Send(ctx context.Context, title, text string) error {
	msg := markdownMessage{MsgType: "markdown"}
	msg.Markdown.Title = title
	msg.Markdown.Text = text

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	return retry(ctx, func() error {
		return n.post(ctx, payload)
	}, n.retries, n.interval)
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	target, err := n.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook返回HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result DingTalkResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("推送失败(%d): %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL 配置了secret时附加 timestamp 与 HMAC-SHA256 签名
func (n *Notifier) signedURL() (string, error) {
	if n.secret == "" {
		return n.webhook, nil
	}

	u, err := url.Parse(n.webhook)
	if err != nil {
		return "", fmt.Errorf("webhook地址无效: %w", err)
	}

	timestamp := strconv.FormatInt(n.now().UnixMilli(), 10)
	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", sign(timestamp, n.secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RunSummary 生成运行摘要(标题, markdown正文)
func RunSummary(res *processor.Result, runErr error) (string, string) {
	var b strings.Builder

	if runErr != nil {
		title := "Siniestralidad Vial: ERROR"
		fmt.Fprintf(&b, "### %s\n\n", title)
		if kind := processor.KindOf(runErr); kind != "" {
			fmt.Fprintf(&b, "- Tipo: **%s**\n", kind)
		}
		fmt.Fprintf(&b, "- Detalle: %v\n", runErr)
		if res != nil {
			fmt.Fprintf(&b, "- Run: %s\n- Entrada: %s\n", res.RunID, res.InputPath)
		}
		return title, b.String()
	}

	title := "Siniestralidad Vial: éxito"
	fmt.Fprintf(&b, "### %s\n\n", title)
	fmt.Fprintf(&b, "- Run: %s\n", res.RunID)
	fmt.Fprintf(&b, "- Filas cargadas: %d\n", res.RowsLoaded)
	fmt.Fprintf(&b, "- Filas exportadas: %d\n", res.RowsExported)
	fmt.Fprintf(&b, "- Exportación: %s\n", res.ExportPath)
	fmt.Fprintf(&b, "- Duración: %v\n", res.Duration.Round(time.Millisecond))

	if res.Top != nil && len(res.Top.Rows) > 0 {
		records := res.Top.Records()
		fmt.Fprintf(&b, "\n| %s |\n", strings.Join(records[0], " | "))
		fmt.Fprintf(&b, "|%s\n", strings.Repeat(" --- |", len(records[0])))
		for i, row := range records[1:] {
			if i == summaryRows {
				break
			}
			fmt.Fprintf(&b, "| %s |\n", strings.Join(row, " | "))
		}
	}
	return title, b.String()
}

// 重试函数，ctx取消时提前结束
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return multierror.Append(err, ctx.Err())
			}
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
