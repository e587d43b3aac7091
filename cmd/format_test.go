package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/enrich"
	"github.com/progeodata/leadflow/internal/icp"
	"github.com/progeodata/leadflow/internal/importer"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/pipeline"
	"github.com/progeodata/leadflow/internal/resilience"
)

func TestRenderDetectReport(t *testing.T) {
	var buf bytes.Buffer
	renderDetectReport(&buf, &icp.BatchReport{
		BatchID: "0f8fad5b-d9cb-469f-a165-70867728950e", Processed: 3, High: 1, Medium: 1, Low: 1,
		Errors: []resilience.UnitError{{Stage: "detect", Unit: "42", ErrorType: "permanent", Error: "bad row"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Detection 0f8fad5b")
	assert.Contains(t, out, "Qualified")
	assert.Contains(t, out, "bad row")
}

func TestRenderEnrichReport_ListsEveryGrade(t *testing.T) {
	var buf bytes.Buffer
	renderEnrichReport(&buf, &enrich.BatchReport{Candidates: 2, Enriched: 2, Grades: map[model.Grade]int{model.GradeA: 2}})
	out := buf.String()
	for _, g := range []string{"Grade A", "Grade B", "Grade C", "Grade D"} {
		assert.Contains(t, out, g)
	}
	assert.NotContains(t, out, "Errors")
}

func TestRenderPipelineReport_SortsSourceErrors(t *testing.T) {
	var buf bytes.Buffer
	renderPipelineReport(&buf, &pipeline.Report{
		JobID: "j1", Query: "plumbing", Location: "Miami", State: model.JobFailed,
		Stages:       []model.StageResult{{Name: "scraping", Status: model.StageFailed, Error: "boom"}},
		SourceErrors: map[string]string{"yelp": "unknown", "google": "quota"},
	})
	out := buf.String()
	assert.Contains(t, out, "plumbing in Miami")
	assert.Contains(t, out, "boom")
	assert.Less(t, strings.Index(out, "google"), strings.Index(out, "yelp"))
}

func TestRenderDailyReport(t *testing.T) {
	var buf bytes.Buffer
	renderDailyReport(&buf, &pipeline.DailyReport{
		Jobs: []pipeline.Report{
			{JobID: "a", Query: "plumbing", Location: "Miami", State: model.JobCompleted, Scraped: 4},
			{JobID: "b", Query: "hvac", Location: "Tampa", State: model.JobFailed},
		},
		Completed: 1, Failed: 1, Scraped: 4,
	})
	out := buf.String()
	assert.Contains(t, out, "hvac")
	assert.Contains(t, out, "1 OK / 1 FAILED")
}

func TestRenderImportResult_DryRunShowsPlan(t *testing.T) {
	var buf bytes.Buffer
	renderImportResult(&buf, &importer.Result{
		JobID: "imp-1", Table: "raw_business_records", Status: importer.StatusPending, DryRun: true,
		TotalRecords: 5, ValidRecords: 5, ChunkSize: 2, Chunks: 3, WouldImport: 5,
		Plan: importer.PlanChunks(5, 2),
	})
	out := buf.String()
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "Would import")
	assert.Contains(t, out, "Plan")
	assert.NotContains(t, out, "Committed chunks")
}

func TestRenderImportResult_Invalid(t *testing.T) {
	var buf bytes.Buffer
	renderImportResult(&buf, &importer.Result{
		JobID: "imp-2", Status: importer.StatusFailed, TotalRecords: 2, ValidRecords: 1,
		Invalid: []importer.ValidationFailure{{Index: 1, Column: "name", Rule: "required", Error: "missing"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Invalid records (1)")
	assert.Contains(t, out, "Committed chunks")
}

func TestRenderCheckpoint(t *testing.T) {
	cp := importer.NewCheckpoint("imp-3", "raw_business_records", 10, 5)
	cp.LastCommittedChunk = 0
	cp.Imported = 5
	cp.ChunkRetries = map[int]int{0: 2}
	cp.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var buf bytes.Buffer
	renderCheckpoint(&buf, cp)
	out := buf.String()
	assert.Contains(t, out, "Import imp-3")
	assert.Contains(t, out, "2026-01-02 03:04:05")
	require.Contains(t, out, "Next chunk")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "12345678", shortUUID("1234567890"))
	assert.Equal(t, "abc", shortUUID("abc"))
}
