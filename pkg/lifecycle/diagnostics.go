package lifecycle

// DiagnosticVersion 诊断响应契约版本
const DiagnosticVersion = 1

// CheckStatus 单项检查状态
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckWarning CheckStatus = "warning"
	CheckPending CheckStatus = "pending"
)

// 检查项名称
const (
	CheckDatabase       = "database"
	CheckAuthentication = "authentication"
	CheckDataAccess     = "data_access"
)

// CheckOrder 固定的检查顺序
var CheckOrder = []string{CheckDatabase, CheckAuthentication, CheckDataAccess}

// Check 单项检查结果
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// DiagnosticReport 连接测试响应
type DiagnosticReport struct {
	Version int     `json:"version"`
	Checks  []Check `json:"checks"`
	Overall Verdict `json:"overall"`
	Message string  `json:"message"`
}

// Verdict 总体结论
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictFailure Verdict = "failure"
	VerdictWarning Verdict = "warning"
	VerdictPending Verdict = "pending"
)

// PendingChecks 三项检查的初始状态
func PendingChecks() []Check {
	checks := make([]Check, 0, len(CheckOrder))
	for _, name := range CheckOrder {
		checks = append(checks, Check{Name: name, Status: CheckPending})
	}
	return checks
}

// SetCheck 原位替换同名检查的结果
func SetCheck(checks []Check, name string, status CheckStatus, message string) {
	for i := range checks {
		if checks[i].Name == name {
			checks[i].Status = status
			checks[i].Message = message
			return
		}
	}
}

// Evaluate 全部通过为成功；任一失败为失败；否则有警告为警告
func Evaluate(checks []Check) Verdict {
	if len(checks) == 0 {
		return VerdictPending
	}
	allPassed := true
	anyWarning := false
	for _, c := range checks {
		switch c.Status {
		case CheckFailed:
			return VerdictFailure
		case CheckWarning:
			anyWarning = true
			allPassed = false
		case CheckPassed:
		default:
			allPassed = false
		}
	}
	if allPassed {
		return VerdictSuccess
	}
	if anyWarning {
		return VerdictWarning
	}
	return VerdictPending
}

// VerdictMessage 结论对应的提示文案
func VerdictMessage(v Verdict) string {
	switch v {
	case VerdictSuccess:
		return "所有检查均已通过"
	case VerdictFailure:
		return "连接测试失败"
	case VerdictWarning:
		return "测试完成，但存在警告"
	default:
		return "检查尚未完成"
	}
}
