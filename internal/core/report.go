package core

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"hujra/pkg/domain"
)

// ReportOptions tunes how student fields are classified in a Report.
type ReportOptions struct {
	// HealthyMarker is the health status meaning "no concern".
	HealthyMarker string
	// AlertStatuses are family financial statuses that raise an alert.
	AlertStatuses []string
	// RecentVisitDays bounds the RecentVisits count; 0 disables it.
	RecentVisitDays int
}

// StudentFlag names a student and the status that put them on a list.
type StudentFlag struct {
	StudentID string `json:"studentId"`
	FullName  string `json:"fullName"`
	Status    string `json:"status"`
}

// FinancialLogRow is one contribution with the student it belongs to.
type FinancialLogRow struct {
	domain.FinancialLogEntry
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

// Report summarises the whole dataset.
type Report struct {
	GeneratedAt     time.Time         `json:"generatedAt"`
	TotalStudents   int               `json:"totalStudents"`
	TotalVisits     int               `json:"totalVisits"`
	RecentVisits    int               `json:"recentVisits"`
	CompletedBooks  int               `json:"completedBooks"`
	TotalAid        int64             `json:"totalAid"`
	HealthConcerns  []StudentFlag     `json:"healthConcerns"`
	FinancialAlerts []StudentFlag     `json:"financialAlerts"`
	FinancialLogs   []FinancialLogRow `json:"financialLogs"`
}

// BuildReport computes a Report from the given records. Amounts that do not
// parse as integers count as zero toward TotalAid.
func BuildReport(students []domain.Student, visits []domain.VisitEvent, opts ReportOptions, now time.Time) Report {
	rep := Report{
		GeneratedAt:     now,
		TotalStudents:   len(students),
		TotalVisits:     len(visits),
		HealthConcerns:  []StudentFlag{},
		FinancialAlerts: []StudentFlag{},
		FinancialLogs:   []FinancialLogRow{},
	}
	alerts := make(map[string]struct{}, len(opts.AlertStatuses))
	for _, s := range opts.AlertStatuses {
		alerts[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	for _, st := range students {
		health := strings.TrimSpace(st.HealthStatus)
		if health != "" && !strings.EqualFold(health, strings.TrimSpace(opts.HealthyMarker)) {
			rep.HealthConcerns = append(rep.HealthConcerns, StudentFlag{StudentID: st.ID, FullName: st.FullName, Status: health})
		}
		finance := strings.TrimSpace(st.FamilyFinancialStatus)
		if _, ok := alerts[strings.ToLower(finance)]; ok && finance != "" {
			rep.FinancialAlerts = append(rep.FinancialAlerts, StudentFlag{StudentID: st.ID, FullName: st.FullName, Status: finance})
		}
		rep.CompletedBooks += len(st.PreviousBooks)
		for _, entry := range st.FinancialHistory {
			rep.FinancialLogs = append(rep.FinancialLogs, FinancialLogRow{FinancialLogEntry: entry, StudentID: st.ID, StudentName: st.FullName})
			if n, err := strconv.ParseInt(strings.TrimSpace(entry.Amount), 10, 64); err == nil {
				rep.TotalAid += n
			}
		}
	}
	sort.SliceStable(rep.FinancialLogs, func(i, j int) bool {
		return rep.FinancialLogs[i].Date > rep.FinancialLogs[j].Date
	})

	if opts.RecentVisitDays > 0 {
		cutoff := now.AddDate(0, 0, -opts.RecentVisitDays).Format(dateLayout)
		for _, v := range visits {
			if v.VisitDate >= cutoff {
				rep.RecentVisits++
			}
		}
	}
	return rep
}
