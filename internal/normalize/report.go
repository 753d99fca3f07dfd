package normalize

import (
	"github.com/ohler55/ojg/oj"
)

// TableReport is the quarantine accounting for one source table. The
// invariant Read == Accepted + Quarantined holds per table, per run.
type TableReport struct {
	Read        uint64            `json:"read"`
	Accepted    uint64            `json:"accepted"`
	Quarantined uint64            `json:"quarantined"`
	Reasons     map[string]uint64 `json:"reasons,omitempty"`
}

func (tr *TableReport) accept() { tr.Accepted++ }

func (tr *TableReport) quarantine(reason string) {
	tr.Quarantined++
	if tr.Reasons == nil {
		tr.Reasons = make(map[string]uint64)
	}
	tr.Reasons[reason]++
}

// Report is the per-run ingestion summary: counts by table and reason.
// Data-quality regressions show up here without halting ingestion.
type Report struct {
	Tables map[string]*TableReport `json:"tables"`
}

func NewReport(tables ...string) *Report {
	r := &Report{Tables: make(map[string]*TableReport, len(tables))}
	for _, t := range tables {
		r.Tables[t] = &TableReport{}
	}
	return r
}

// Table returns the report entry for a table, creating it if needed.
func (r *Report) Table(name string) *TableReport {
	tr, ok := r.Tables[name]
	if !ok {
		tr = &TableReport{}
		r.Tables[name] = tr
	}
	return tr
}

// TotalQuarantined sums quarantined rows across all tables.
func (r *Report) TotalQuarantined() uint64 {
	var n uint64
	for _, tr := range r.Tables {
		n += tr.Quarantined
	}
	return n
}

// JSON renders the report for export or logging.
func (r *Report) JSON() string {
	return oj.JSON(r, 2)
}
