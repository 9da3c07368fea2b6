package core

import (
	"testing"
	"time"

	"hujra/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	students := []domain.Student{
		{
			ID: "s1", FullName: "Ali", HealthStatus: " Healthy ", FamilyFinancialStatus: "Poor",
			PreviousBooks: []domain.BookProgress{{Name: "Nahw"}, {Name: "Sarf"}},
			FinancialHistory: []domain.FinancialLogEntry{
				{ID: "f1", Date: "2024-05-01", Amount: "5000", Source: "donor"},
				{ID: "f2", Date: "2024-06-15", Amount: "abc"},
			},
		},
		{
			ID: "s2", FullName: "Omar", HealthStatus: "asthma", FamilyFinancialStatus: "good",
			FinancialHistory: []domain.FinancialLogEntry{{ID: "f3", Date: "2024-06-01", Amount: " 250 "}},
		},
		{ID: "s3", FullName: "Bilal", FamilyFinancialStatus: "bad", PreviousBooks: []domain.BookProgress{{Name: "Fiqh"}}},
	}
	visits := []domain.VisitEvent{
		{ID: "v1", VisitDate: "2024-06-20"},
		{ID: "v2", VisitDate: "2024-05-31"},
		{ID: "v3", VisitDate: "2024-05-30"},
		{ID: "v4", VisitDate: "2023-01-01"},
	}

	rep := BuildReport(students, visits, ReportOptions{HealthyMarker: "healthy", AlertStatuses: []string{"bad", "poor"}, RecentVisitDays: 30}, now)

	assert.Equal(t, now, rep.GeneratedAt)
	assert.Equal(t, 3, rep.TotalStudents)
	assert.Equal(t, 4, rep.TotalVisits)
	assert.Equal(t, 2, rep.RecentVisits)
	assert.Equal(t, 3, rep.CompletedBooks)
	assert.EqualValues(t, 5250, rep.TotalAid)

	require.Len(t, rep.HealthConcerns, 1)
	assert.Equal(t, StudentFlag{StudentID: "s2", FullName: "Omar", Status: "asthma"}, rep.HealthConcerns[0])

	require.Len(t, rep.FinancialAlerts, 2)
	assert.Equal(t, "s1", rep.FinancialAlerts[0].StudentID)
	assert.Equal(t, "s3", rep.FinancialAlerts[1].StudentID)

	require.Len(t, rep.FinancialLogs, 3)
	assert.Equal(t, []string{"f2", "f3", "f1"}, []string{rep.FinancialLogs[0].ID, rep.FinancialLogs[1].ID, rep.FinancialLogs[2].ID})
	assert.Equal(t, "Ali", rep.FinancialLogs[0].StudentName)
}

func TestBuildReportEmpty(t *testing.T) {
	rep := BuildReport(nil, nil, ReportOptions{}, time.Now())
	assert.Zero(t, rep.TotalStudents)
	assert.NotNil(t, rep.HealthConcerns)
	assert.NotNil(t, rep.FinancialAlerts)
	assert.NotNil(t, rep.FinancialLogs)
	assert.Zero(t, rep.RecentVisits)
}
