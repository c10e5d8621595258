package dataservice

import (
	"fmt"

	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/VictoriaMetrics/metrics"
)

type faultType string

const (
	faultService  faultType = "service"
	faultRuntime  faultType = "runtime"
	faultDatabase faultType = "database"
)

// faultReporter counts faults and request results in a metrics set.
type faultReporter struct {
	set *metrics.Set
}

func newFaultReporter(set *metrics.Set, openStores func() float64) *faultReporter {
	set.GetOrCreateGauge("kvds_open_stores", openStores)
	return &faultReporter{set: set}
}

// report counts a fault. detail is only logged, it is not a label.
func (f *faultReporter) report(t faultType, module, detail string) {
	log.Warningf("fault %s/%s: %s", t, module, detail)
	f.set.GetOrCreateCounter(fmt.Sprintf(`kvds_fault_total{type=%q,module=%q}`, t, module)).Inc()
}

// observe counts the result of an operation.
func (f *faultReporter) observe(op string, status kvstore.Status) {
	f.set.GetOrCreateCounter(fmt.Sprintf(`kvds_requests_total{op=%q,status=%q}`, op, status.String())).Inc()
	if status == kvstore.DbError {
		f.report(faultDatabase, op, status.String())
	}
}

// FaultCount returns how often a fault was reported.
func (s *Service) FaultCount(t, module string) uint64 {
	return s.cfg.Metrics.GetOrCreateCounter(fmt.Sprintf(`kvds_fault_total{type=%q,module=%q}`, t, module)).Get()
}

// openStoreCount sums the open stores of every device account. It reports the
// previous value while accountMu is held by a slow operation.
func (s *Service) openStoreCount() float64 {
	if !s.accountMu.TryLock() {
		return float64(s.lastOpenStores.Load())
	}
	defer s.accountMu.Unlock()
	n := 0
	for _, um := range s.deviceAccounts {
		n += um.OpenStoreCount()
	}
	s.lastOpenStores.Store(int64(n))
	return float64(n)
}
