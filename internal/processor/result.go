package processor

import "wisefido-vitals/internal/models"

// Outcome 对账结局
type Outcome int

const (
	// OutcomeSeeded 当日首批读数，缓存条目由本次对账创建（总是触发聚合写）
	OutcomeSeeded Outcome = iota + 1
	// OutcomeImproved 本批读数刷新了缓存的 min 或 max（触发聚合写）
	OutcomeImproved
	// OutcomeUnchanged 本批读数落在已有极值区间内（跳过聚合写）
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSeeded:
		return "seeded"
	case OutcomeImproved:
		return "improved"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// ReconcileResult 对账结果：结局标签 + 对账后的缓存极值
// Entry 是缓存的权威对账后状态，聚合写必须与其完全一致
type ReconcileResult struct {
	Outcome Outcome
	Entry   models.DailyExtrema
}
