// Package console 集成管理控制台的 Go 客户端 SDK
//
// 所有破坏性操作（断开连接、撤销 Key、删除订阅）都要求调用方显式确认，
// 未确认时不会发出请求。参数校验失败同样不会访问网络。
//
// 使用示例：
//
//	client := console.NewClient("https://console.example.com",
//	    console.WithToken(token),
//	    console.WithTimeout(15*time.Second),
//	)
//
//	// 发起 OAuth 授权，默认在浏览器中打开授权地址
//	_, err := client.Connect(ctx, "zoom", "")
//
//	// 连接测试
//	report, err := client.RunConnectionTest(ctx, keyID)
package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"integration-console/pkg/lifecycle"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/browser"
)

// Opener 打开授权地址（整页跳转）
type Opener func(url string) error

// Client 控制台客户端
type Client struct {
	serverURL string
	token     string
	userAgent string
	timeout   time.Duration
	opener    Opener
	http      *resty.Client
}

// Option 客户端配置选项
type Option func(*Client)

// WithToken 设置控制台登录 Token
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient 使用自定义 HTTP 客户端（测试或自定义 TLS）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
	}
}

// WithOpener 替换打开授权地址的方式，默认调用系统浏览器
func WithOpener(open Opener) Option {
	return func(c *Client) {
		c.opener = open
	}
}

// WithUserAgent 设置 User-Agent
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient 创建客户端
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		userAgent: "integration-console-sdk-go/1.0",
		timeout:   30 * time.Second,
		opener:    browser.OpenURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = resty.New()
	}
	c.http.SetBaseURL(c.serverURL).
		SetTimeout(c.timeout).
		SetHeader("User-Agent", c.userAgent).
		SetHeader("Accept", "application/json")
	return c
}

// ServerURL 服务器地址
func (c *Client) ServerURL() string {
	return c.serverURL
}

// SetToken 更新登录 Token
func (c *Client) SetToken(token string) {
	c.token = token
}

// envelope 服务端统一响应结构
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
	Field     string          `json:"field"`
	Data      json.RawMessage `json:"data"`
}

// call 发送请求并解出 data；out 为 nil 时忽略数据
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.callRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return lifecycle.Backend("响应数据解析失败", err)
	}
	return nil
}

// callRaw 返回未解析的 data 字段
func (c *Client) callRaw(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	req := c.http.R().SetContext(ctx)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, lifecycle.Backend("网络请求失败", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.IsError() {
			return nil, statusError(resp)
		}
		return nil, lifecycle.Backend("响应格式错误", err)
	}
	if resp.IsError() || env.Code != 0 {
		return nil, envelopeError(resp.StatusCode(), env)
	}
	return env.Data, nil
}

// envelopeError 按错误码还原错误，没有错误码时按 HTTP 状态归类
func envelopeError(status int, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if env.ErrorCode != "" {
		e := lifecycle.FromCode(env.ErrorCode, msg)
		e.Field = env.Field
		return e
	}
	switch status {
	case http.StatusBadRequest:
		return lifecycle.Validation(env.Field, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &lifecycle.Error{Kind: lifecycle.KindAuthorization, Code: "unauthorized", Message: msg}
	case http.StatusNotFound:
		return lifecycle.NotFound(msg)
	case http.StatusConflict:
		return lifecycle.Conflict(msg)
	}
	return lifecycle.Backend(msg, nil)
}

func statusError(resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if len(body) > 200 {
		body = body[:200]
	}
	var upstream error
	if body != "" {
		upstream = errors.New(body)
	}
	return lifecycle.Backend(resp.Status(), upstream)
}
