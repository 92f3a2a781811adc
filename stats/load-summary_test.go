package stats

import (
	"strings"
	"testing"
)

func TestLoadSummaryAccounting(t *testing.T) {
	s := NewLoadSummary("batch-1")
	s.AddProcessed("stage customers", 10)
	s.AddWritten("stage customers", 8)
	s.AddRejected("stage customers", RejectKindSchema, 2)
	s.AddProcessed("load fact_sales", 5)
	s.AddWritten("load fact_sales", 4)
	s.AddRejected("load fact_sales", RejectKindLookup, 1)
	s.Finish()

	r := s.Render()
	if r.BatchId != "batch-1" {
		t.Error("unexpected batch id: ", r.BatchId)
	}
	if r.TotalWritten != 12 {
		t.Error("unexpected total written: ", r.TotalWritten)
	}
	if r.TotalRejected != 3 {
		t.Error("unexpected total rejected: ", r.TotalRejected)
	}
	if len(r.Steps) != 2 {
		t.Fatal("unexpected step count: ", len(r.Steps))
	}
	if r.Steps[0].StepName != "stage customers" || r.Steps[0].RowsRejected[RejectKindSchema] != 2 {
		t.Error("unexpected first step summary: ", r.Steps[0])
	}
	if !strings.Contains(r.String(), "rejected[lookup]=1") {
		t.Error("summary string missing lookup rejects: ", r.String())
	}
}

func TestLoadSummaryStepOrderStable(t *testing.T) {
	s := NewLoadSummary("batch-2")
	s.AddProcessed("a", 1)
	s.AddProcessed("b", 1)
	s.AddProcessed("a", 1)
	r := s.Render()
	if len(r.Steps) != 2 || r.Steps[0].StepName != "a" || r.Steps[1].StepName != "b" {
		t.Error("steps not in registration order: ", r.Steps)
	}
	if r.Steps[0].RowsProcessed != 2 {
		t.Error("processed counts not accumulated: ", r.Steps[0])
	}
}
