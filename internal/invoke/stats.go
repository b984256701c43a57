package invoke

// InvocationStats 聚合了调用状态的统计信息，常用于仪表盘或健康检查。
type InvocationStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Validating      int   `json:"validating"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
