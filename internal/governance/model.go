package governance

import "github.com/aiox-platform/inferguard/internal/governance/quota"

// Usage sources accepted by GET /governance/usage.
const (
	UsageSourceMemory = "memory"
	UsageSourceMirror = "mirror"
)

// UsageResponse lists recent calls, oldest first.
type UsageResponse struct {
	Source  string              `json:"source"`
	Records []quota.UsageRecord `json:"records"`
}

type usageParams struct {
	Source string `validate:"omitempty,oneof=memory mirror"`
	Limit  int    `validate:"min=1,max=100"`
}

// InvalidationResult reports what an admin invalidation removed. Removed
// is only known for scoped invalidations.
type InvalidationResult struct {
	Scope   string `json:"scope"`
	Token   string `json:"token,omitempty"`
	Removed *int   `json:"removed,omitempty"`
}
