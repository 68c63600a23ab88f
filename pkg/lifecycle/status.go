package lifecycle

// ConnectionStatus 集成连接状态
type ConnectionStatus string

const (
	StatusPending  ConnectionStatus = "pending"
	StatusActive   ConnectionStatus = "active"
	StatusInactive ConnectionStatus = "inactive"
	StatusError    ConnectionStatus = "error"
)

// Outcome 最近一次授权/同步/测试的结果
type Outcome string

const (
	OutcomeAwaitingAuth Outcome = "awaiting_auth"
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomeDisabled     Outcome = "disabled"
)

// DeriveStatus 状态只能由结果推导，不接受外部直接写入
func DeriveStatus(o Outcome) ConnectionStatus {
	switch o {
	case OutcomeSucceeded:
		return StatusActive
	case OutcomeFailed:
		return StatusError
	case OutcomeDisabled:
		return StatusInactive
	default:
		return StatusPending
	}
}

// SuccessRate 成功率百分比，无投递记录时为 0
func SuccessRate(success, failure int64) float64 {
	total := success + failure
	if total <= 0 {
		return 0
	}
	return float64(success) * 100 / float64(total)
}

// RateLevel 成功率等级
type RateLevel string

const (
	RateNone    RateLevel = "none"
	RateHealthy RateLevel = "healthy"
	RateWarning RateLevel = "warning"
	RateFailing RateLevel = "failing"
)

// 阈值
const (
	WarningThreshold = 90.0
	FailingThreshold = 70.0
)

// ClassifyRate 低于 90 警告，低于 70 失败
func ClassifyRate(success, failure int64) RateLevel {
	if success+failure == 0 {
		return RateNone
	}
	rate := SuccessRate(success, failure)
	switch {
	case rate < FailingThreshold:
		return RateFailing
	case rate < WarningThreshold:
		return RateWarning
	default:
		return RateHealthy
	}
}
