package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/progeodata/leadflow/internal/enrich"
	"github.com/progeodata/leadflow/internal/icp"
	"github.com/progeodata/leadflow/internal/importer"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/pipeline"
	"github.com/progeodata/leadflow/internal/publish"
	"github.com/progeodata/leadflow/internal/resilience"
)

const maxErrWidth = 60

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	return t
}

// renderSummary prints key/value pairs as a two-column table.
func renderSummary(out io.Writer, title string, rows []table.Row) {
	t := newTable(out)
	t.SetTitle(title)
	t.AppendRows(rows)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func renderUnitErrors(out io.Writer, errs []resilience.UnitError) {
	if len(errs) == 0 {
		return
	}
	t := newTable(out)
	t.SetTitle("Errors")
	t.AppendHeader(table.Row{"Stage", "Unit", "Type", "Attempts", "Error"})
	for _, e := range errs {
		t.AppendRow(table.Row{e.Stage, e.Unit, e.ErrorType, e.Attempts, truncate(e.Error, maxErrWidth)})
	}
	t.Render()
}

func renderDetectReport(out io.Writer, r *icp.BatchReport) {
	renderSummary(out, "Detection "+shortUUID(r.BatchID), []table.Row{
		{"Processed", r.Processed},
		{"High", r.High},
		{"Medium", r.Medium},
		{"Low", r.Low},
		{"Qualified", r.Qualified()},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
	})
	renderUnitErrors(out, r.Errors)
}

func renderEnrichReport(out io.Writer, r *enrich.BatchReport) {
	rows := []table.Row{
		{"Candidates", r.Candidates},
		{"Enriched", r.Enriched},
		{"Skipped", r.Skipped},
	}
	for _, g := range model.GradesAtLeast(model.GradeD) {
		rows = append(rows, table.Row{"Grade " + string(g), r.Grades[g]})
	}
	rows = append(rows, table.Row{"Duration", fmt.Sprintf("%dms", r.DurationMs)})
	renderSummary(out, "Enrichment", rows)
	renderUnitErrors(out, r.Errors)
}

func renderPublishReport(out io.Writer, r *publish.BatchReport) {
	renderSummary(out, "Publishing", []table.Row{
		{"Candidates", r.Candidates},
		{"Published", r.Published},
		{"Skipped", r.Skipped},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
	})
	if len(r.Profiles) > 0 {
		t := newTable(out)
		t.AppendHeader(table.Row{"Slug", "Lead", "Title"})
		for _, p := range r.Profiles {
			t.AppendRow(table.Row{p.Slug, p.EnrichedLeadID, truncate(p.Title, maxErrWidth)})
		}
		t.Render()
	}
	renderUnitErrors(out, r.Errors)
}

func renderPipelineReport(out io.Writer, r *pipeline.Report) {
	renderSummary(out, fmt.Sprintf("%s in %s (%s)", r.Query, r.Location, shortUUID(r.JobID)), []table.Row{
		{"State", r.State},
		{"Sources", strings.Join(r.Sources, ", ")},
		{"Scraped", fmt.Sprintf("%d (%d stored)", r.Scraped, r.Stored)},
		{"Detected", fmt.Sprintf("%d (%d high, %d qualified)", r.Detected, r.DetectedHigh, r.Qualified)},
		{"Enriched", r.Enriched},
		{"Published", r.Published},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
	})

	t := newTable(out)
	t.SetTitle("Stages")
	t.AppendHeader(table.Row{"Stage", "Status", "Duration", "Error"})
	for _, s := range r.Stages {
		t.AppendRow(table.Row{s.Name, s.Status, fmt.Sprintf("%dms", s.DurationMs), truncate(s.Error, maxErrWidth)})
	}
	t.Render()

	if len(r.SourceErrors) > 0 {
		names := make([]string, 0, len(r.SourceErrors))
		for n := range r.SourceErrors {
			names = append(names, n)
		}
		sort.Strings(names)
		st := newTable(out)
		st.SetTitle("Source errors")
		for _, n := range names {
			st.AppendRow(table.Row{n, truncate(r.SourceErrors[n], maxErrWidth)})
		}
		st.Render()
	}
	renderUnitErrors(out, r.Errors)
}

func renderDailyReport(out io.Writer, d *pipeline.DailyReport) {
	t := newTable(out)
	t.SetTitle("Daily batch")
	t.AppendHeader(table.Row{"Job", "Query", "Location", "State", "Scraped", "High", "Enriched", "Published"})
	for _, r := range d.Jobs {
		t.AppendRow(table.Row{shortUUID(r.JobID), r.Query, r.Location, r.State, r.Scraped, r.DetectedHigh, r.Enriched, r.Published})
	}
	t.AppendFooter(table.Row{
		"Total", fmt.Sprintf("%dms", d.DurationMs), "", fmt.Sprintf("%d ok / %d failed", d.Completed, d.Failed),
		d.Scraped, d.DetectedHigh, d.Enriched, d.Published,
	})
	t.Render()
}

func renderJobs(out io.Writer, jobs []model.PipelineJob) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Query", "Location", "State", "Failed stage", "Updated", "Error"})
	for _, j := range jobs {
		t.AppendRow(table.Row{
			shortUUID(j.ID), j.Query, j.Location, j.State, j.FailedStage,
			j.UpdatedAt.Format("2006-01-02 15:04"), truncate(j.Error, maxErrWidth),
		})
	}
	t.Render()
}

func renderImportResult(out io.Writer, r *importer.Result) {
	title := "Import " + r.JobID
	if r.DryRun {
		title += " (dry run)"
	}
	rows := []table.Row{
		{"Table", r.Table},
		{"Status", r.Status},
		{"Tier", r.Tier},
		{"Records", fmt.Sprintf("%d (%d valid)", r.TotalRecords, r.ValidRecords)},
		{"Chunks", fmt.Sprintf("%d x %d", r.Chunks, r.ChunkSize)},
		{"Resumed from", r.ResumedFrom},
	}
	if r.DryRun {
		rows = append(rows, table.Row{"Would import", r.WouldImport})
	} else {
		rows = append(rows,
			table.Row{"Committed chunks", r.ChunksCommitted},
			table.Row{"Imported", r.Imported},
			table.Row{"Retries", r.Retries},
		)
	}
	rows = append(rows, table.Row{"Duration", fmt.Sprintf("%dms", r.DurationMs)})
	renderSummary(out, title, rows)

	if r.DryRun && len(r.Plan) > 0 {
		t := newTable(out)
		t.SetTitle("Plan")
		t.AppendHeader(table.Row{"Chunk", "Start", "End", "Rows"})
		for _, c := range r.Plan {
			t.AppendRow(table.Row{c.Index, c.Start, c.End, c.Rows})
		}
		t.Render()
	}

	if len(r.Invalid) > 0 {
		t := newTable(out)
		t.SetTitle(fmt.Sprintf("Invalid records (%d)", len(r.Invalid)))
		t.AppendHeader(table.Row{"Record", "Column", "Rule", "Error"})
		for _, f := range r.Invalid {
			t.AppendRow(table.Row{f.Index, f.Column, f.Rule, truncate(f.Error, maxErrWidth)})
		}
		t.SetPageSize(50)
		t.Render()
	}
	renderUnitErrors(out, r.Errors)
}

func renderCheckpoint(out io.Writer, cp *importer.Checkpoint) {
	retries := 0
	for _, n := range cp.ChunkRetries {
		retries += n
	}
	rows := []table.Row{
		{"Table", cp.Table},
		{"Status", cp.Status},
		{"Records", cp.TotalRecords},
		{"Chunk size", cp.ChunkSize},
		{"Last committed chunk", cp.LastCommittedChunk},
		{"Next chunk", cp.NextChunk()},
		{"Imported", cp.Imported},
		{"Retries", retries},
		{"Updated", cp.UpdatedAt.Format("2006-01-02 15:04:05")},
	}
	if cp.Error != "" {
		rows = append(rows, table.Row{"Error", truncate(cp.Error, maxErrWidth)})
	}
	renderSummary(out, "Import "+cp.JobID, rows)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
