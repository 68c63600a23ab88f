package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"integration-console/internal/config"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"
)

// Sender 邮件发送通道
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// NewSender 按配置选择 SMTP 或 Mailgun；未启用时返回 nil
func NewSender(cfg *config.EmailConfig) Sender {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Provider == "mailgun" {
		return &mailgunSender{
			client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
			from:   cfg.From,
		}
	}
	return &smtpSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

// smtpSender SMTP 发送
type smtpSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func (s *smtpSender) Send(_ context.Context, to, subject, body string) error {
	if s.host == "" {
		return fmt.Errorf("邮件服务未配置")
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	// 465 端口走隐式 TLS
	if s.port == 465 {
		return s.sendTLS(addr, auth, to, msg)
	}
	return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg))
}

func (s *smtpSender) sendTLS(addr string, auth smtp.Auth, to, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if err = client.Auth(auth); err != nil {
		return err
	}
	if err = client.Mail(s.from); err != nil {
		return err
	}
	if err = client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write([]byte(msg)); err != nil {
		return err
	}
	return w.Close()
}

// mailgunSender Mailgun API 发送
type mailgunSender struct {
	client *mailgun.MailgunImpl
	from   string
}

func (s *mailgunSender) Send(ctx context.Context, to, subject, html string) error {
	message := s.client.NewMessage(s.from, subject, "", to)
	message.SetHtml(html)

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, id, err := s.client.Send(sendCtx, message)
	if err != nil {
		return err
	}
	zap.L().Debug("邮件已提交", zap.String("message_id", id))
	return nil
}

// EmailService 控制台通知邮件
type EmailService struct {
	sender     Sender
	consoleURL string
}

// NewEmailService 创建邮件服务，sender 为 nil 时只记录日志
func NewEmailService(sender Sender, consoleURL string) *EmailService {
	return &EmailService{sender: sender, consoleURL: consoleURL}
}

// Enabled 是否配置了发送通道
func (s *EmailService) Enabled() bool {
	return s.sender != nil
}

func (s *EmailService) render(name, tpl string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *EmailService) send(ctx context.Context, to, subject, body string) error {
	if s.sender == nil {
		zap.L().Info("邮件服务未启用，跳过发送", zap.String("subject", subject))
		return nil
	}
	return s.sender.Send(ctx, to, subject, body)
}

const layoutHead = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #1890ff; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background: #f9f9f9; }
        .footer { padding: 20px; text-align: center; color: #999; font-size: 12px; }
        .btn { display: inline-block; padding: 10px 20px; background: #1890ff; color: white; text-decoration: none; border-radius: 4px; }
        .warning { color: #ff4d4f; font-weight: bold; }
    </style>
</head>`

const inviteTemplate = layoutHead + `
<body>
    <div class="container">
        <div class="header">
            <h1>控制台邀请</h1>
        </div>
        <div class="content">
            <p>您好：</p>
            <p>{{.InviterName}} 邀请您以 <strong>{{.Role}}</strong> 身份加入集成控制台。</p>
            <p>邀请链接将于 <span class="warning">{{.ExpireAt}}</span> 失效。</p>
            <p style="text-align: center; margin-top: 30px;">
                <a href="{{.AcceptURL}}" class="btn">接受邀请</a>
            </p>
        </div>
        <div class="footer">
            <p>此邮件由系统自动发送，请勿回复。</p>
        </div>
    </div>
</body>
</html>
`

// InviteEmailData 邀请邮件数据
type InviteEmailData struct {
	InviterName string
	Role        string
	ExpireAt    string
	AcceptURL   string
}

// SendInvite 发送邀请邮件
func (s *EmailService) SendInvite(ctx context.Context, to, token string, data InviteEmailData) error {
	data.AcceptURL = s.consoleURL + "/invite/accept?token=" + token
	body, err := s.render("invite", inviteTemplate, data)
	if err != nil {
		return err
	}
	return s.send(ctx, to, "【集成控制台】您收到一份加入邀请", body)
}

const deletionTemplate = layoutHead + `
<body>
    <div class="container">
        <div class="header">
            <h1>账户删除通知</h1>
        </div>
        <div class="content">
            <p>尊敬的 {{.UserName}}：</p>
            <p>管理员已为您的账户提交删除申请。</p>
            <ul>
                <li>计划删除时间：<span class="warning">{{.ScheduledFor}}</span></li>
                {{if .Reason}}<li>原因：{{.Reason}}</li>{{end}}
            </ul>
            <p>在此之前申请可以被撤销。删除后，您的 API Key、Webhook 与集成连接将一并移除。</p>
        </div>
        <div class="footer">
            <p>此邮件由系统自动发送，请勿回复。</p>
        </div>
    </div>
</body>
</html>
`

// DeletionEmailData 删除通知数据
type DeletionEmailData struct {
	UserName     string
	ScheduledFor string
	Reason       string
}

// SendDeletionNotice 发送删除申请通知
func (s *EmailService) SendDeletionNotice(ctx context.Context, to string, data DeletionEmailData) error {
	body, err := s.render("deletion", deletionTemplate, data)
	if err != nil {
		return err
	}
	return s.send(ctx, to, "【集成控制台】您的账户删除申请已提交", body)
}
