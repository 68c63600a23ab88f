package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"integration-console/pkg/lifecycle"

	"github.com/google/jsonschema-go/jsonschema"
)

// ResponseShapeError 连接测试响应不符合约定结构，Raw 保留原始数据用于排查
type ResponseShapeError struct {
	Raw    json.RawMessage
	Reason string
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("%s: %s", lifecycle.CodeUnknownResponseShape, e.Reason)
}

func (e *ResponseShapeError) Is(target error) bool {
	return target == lifecycle.ErrUnknownResponseShape
}

func enumOf[T ~string](values ...T) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

// reportSchema DiagnosticReport 的结构约定
func reportSchema() *jsonschema.Schema {
	check := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "status"},
		Properties: map[string]*jsonschema.Schema{
			"name":    {Type: "string", Enum: enumOf(lifecycle.CheckOrder...)},
			"status":  {Type: "string", Enum: enumOf(lifecycle.CheckPassed, lifecycle.CheckFailed, lifecycle.CheckWarning, lifecycle.CheckPending)},
			"message": {Type: "string"},
		},
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"version", "checks", "overall"},
		Properties: map[string]*jsonschema.Schema{
			"version": {Type: "integer"},
			"checks":  {Type: "array", Items: check},
			"overall": {Type: "string", Enum: enumOf(lifecycle.VerdictSuccess, lifecycle.VerdictFailure, lifecycle.VerdictWarning, lifecycle.VerdictPending)},
			"message": {Type: "string"},
		},
	}
}

var (
	resolvedOnce   sync.Once
	resolvedReport *jsonschema.Resolved
	resolveErr     error
)

func resolvedReportSchema() (*jsonschema.Resolved, error) {
	resolvedOnce.Do(func() {
		resolvedReport, resolveErr = reportSchema().Resolve(nil)
	})
	return resolvedReport, resolveErr
}

// decodeReport 先按结构约定校验再解析，任何不符都返回 ResponseShapeError
func decodeReport(raw json.RawMessage) (*lifecycle.DiagnosticReport, error) {
	shapeErr := func(reason string) error {
		return &ResponseShapeError{Raw: raw, Reason: reason}
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, shapeErr(err.Error())
	}
	resolved, err := resolvedReportSchema()
	if err != nil {
		return nil, lifecycle.Backend("诊断结构定义无效", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, shapeErr(err.Error())
	}

	var report lifecycle.DiagnosticReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, shapeErr(err.Error())
	}
	if report.Version != lifecycle.DiagnosticVersion {
		return nil, shapeErr(fmt.Sprintf("不支持的版本 %d", report.Version))
	}
	return &report, nil
}

// RunConnectionTest 对指定 API Key 运行数据库、认证、数据访问三项检查
func (c *Client) RunConnectionTest(ctx context.Context, apiKeyID string) (*lifecycle.DiagnosticReport, error) {
	apiKeyID = strings.TrimSpace(apiKeyID)
	if apiKeyID == "" {
		return nil, lifecycle.Validation("api_key_id", "请先选择 API Key")
	}

	raw, err := c.callRaw(ctx, http.MethodPost, "/api/functions/connection-test", map[string]string{
		"api_key_id": apiKeyID,
	})
	if err != nil {
		return nil, err
	}
	return decodeReport(raw)
}
