// Package health turns storage stats into an operator-facing report, used by
// the cachectl doctor command.
package health

import "github.com/wolffiex/peakcache/store"

// Status represents overall cache health.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the doctor's summary.
type Report struct {
	OverallStatus   Status   `json:"overall_status"`
	Summary         string   `json:"summary"`
	Signals         []string `json:"signals"`
	Recommendations []string `json:"recommendations"`
}

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates storage stats.
type Rule func(st store.Stats) RuleResult

// Analyzer evaluates a fixed rule set against store stats.
type Analyzer struct {
	rules []Rule
}

// NewAnalyzer creates an analyzer with the default rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules: []Rule{
			ExpiredBacklogRule,
			AllExpiredRule,
		},
	}
}

// Analyze runs every rule and folds the results into one report.
func (a *Analyzer) Analyze(st store.Stats) Report {
	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)

	for _, rule := range a.rules {
		result := rule(st)
		if !result.Triggered {
			continue
		}

		signals = append(signals, result.Signal)
		recommendations = append(recommendations, result.Recommendation)

		// Escalate status
		if result.Severity == StatusCritical {
			status = StatusCritical
		} else if result.Severity == StatusDegraded && status == StatusOK {
			status = StatusDegraded
		}
	}

	summary := "Cache is healthy"
	if status != StatusOK {
		summary = "Cache health issues detected"
	}

	return Report{
		OverallStatus:   status,
		Summary:         summary,
		Signals:         signals,
		Recommendations: recommendations,
	}
}

// ---------- Rules ----------

// A large expired backlog means nobody is sweeping.
func ExpiredBacklogRule(st store.Stats) RuleResult {
	if st.Total >= 10 && st.Expired*2 > st.Total {
		return RuleResult{
			Triggered:      true,
			Signal:         "More than half of all cache rows are expired",
			Recommendation: "Run cachectl sweep, or keep a cachectl sweeper process running",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Every row dead usually means TTLs are far shorter than the sweep cadence.
func AllExpiredRule(st store.Stats) RuleResult {
	if st.Total > 0 && st.Expired == st.Total {
		return RuleResult{
			Triggered:      true,
			Signal:         "Every cache row is expired",
			Recommendation: "Check that writers use sensible TTLs and that sweeping is scheduled",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}
