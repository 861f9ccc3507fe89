package opt

import "sync"

type runKey struct {
	Tenant string
	Day    string
	Mode   string
}

var (
	mu   sync.Mutex
	runs = map[runKey]RunMetrics{}
)

// RecordRun keeps the latest run metrics per tenant/day/mode for the admin
// metrics endpoint.
func RecordRun(tenant, day string, m RunMetrics) {
	mu.Lock()
	runs[runKey{Tenant: tenant, Day: day, Mode: m.Mode}] = m
	mu.Unlock()
}

func GetRuns(tenant, day string) map[string]RunMetrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]RunMetrics{}
	for k, v := range runs {
		if k.Tenant == tenant && k.Day == day {
			out[k.Mode] = v
		}
	}
	return out
}
