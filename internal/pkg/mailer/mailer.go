package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"

	"qi_api/internal/pkg/config"

	"gopkg.in/gomail.v2"
)

// Sender 发送 HTML 邮件
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPSender 基于 gomail 的 SMTP 发送器
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender 未配置 Host 时返回 nil
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	d.SSL = cfg.Port == 465

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{dialer: d, from: from}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("mail recipient is empty")
	}
	msg := buildMessage(s.from, to, subject, htmlBody)

	// gomail 不支持 context，拨号放到协程里，ctx 到期后直接返回
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", to, ctx.Err())
	}
}

func buildMessage(from, to, subject, htmlBody string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)
	return m
}

var paySuccessTmpl = template.Must(template.New("pay_success").Parse(
	`<h3>支付成功</h3><p>您购买的 <b>{{.OrderName}}</b> 已支付成功，支付金额 <b>{{.Amount}}</b> 元。</p>` +
		`<p>订单号：{{.OrderNo}}</p>`))

// PaySuccessSubject 支付成功邮件标题
const PaySuccessSubject = "支付成功通知"

// RenderPaySuccess 渲染支付成功邮件，total 为分
func RenderPaySuccess(orderNo, orderName string, total int64) (string, error) {
	var buf bytes.Buffer
	err := paySuccessTmpl.Execute(&buf, struct {
		OrderNo   string
		OrderName string
		Amount    string
	}{
		OrderNo:   orderNo,
		OrderName: orderName,
		Amount:    FormatAmount(total),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatAmount 分转元，保留两位小数
func FormatAmount(total int64) string {
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%d.%02d", sign, total/100, total%100)
}
