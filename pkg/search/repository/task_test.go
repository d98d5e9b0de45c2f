package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/search-harvester/internal/testutil"
	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

func testSpec(after, before string, cursor *string, origin *string) Spec {
	return Spec{
		Meta:             task.Meta{ID: "deadbeef", OriginatingTaskID: origin},
		MinStars:         5,
		MinForks:         5,
		MinSizeInKb:      5,
		HasActivityAfter: period.MustParseDate("2023-01-01"),
		CreatedAfter:     period.MustParseDate(after),
		CreatedBefore:    period.MustParseDate(before),
		PageSize:         5,
		StartCursor:      cursor,
	}
}

func TestTask_Execute(t *testing.T) {
	transport := testutil.StaticTransport(`{"search":{"repositoryCount":1,"nodes":[{"nameWithOwner":"foo/bar"}]}}`, nil)
	tc, _ := testutil.NewTaskContext(transport)

	tk := NewTask(testSpec("2023-01-01", "2023-01-01", task.StringPtr("start"), task.StringPtr("beefdead")))
	result, err := tk.Execute(context.Background(), tc)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Search.Nodes[0].NameWithOwner != "foo/bar" {
		t.Errorf("decoded node = %+v", result.Search.Nodes[0])
	}

	calls := transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("transport called %d times, want 1", len(calls))
	}
	if calls[0].Query != Query {
		t.Error("unexpected query")
	}
	wantSearch := "is:public template:false archived:false stars:>=5 forks:>=5 size:>=5 pushed:>=2023-01-01 created:2023-01-01..2023-01-01"
	if got := calls[0].Variables["searchString"]; got != wantSearch {
		t.Errorf("searchString = %q, want %q", got, wantSearch)
	}
	if got := calls[0].Variables["first"]; got != 5 {
		t.Errorf("first = %v, want 5", got)
	}
	if got := calls[0].Variables["after"]; got != "start" {
		t.Errorf("after = %v, want start", got)
	}
}

func TestTask_BuildQueryParameters_FirstPage(t *testing.T) {
	params := NewTask(testSpec("2023-01-01", "2023-01-05", nil, nil)).BuildQueryParameters()
	if params["after"] != nil {
		t.Errorf("after = %v, want nil", params["after"])
	}
}

func TestTask_Execute_Error(t *testing.T) {
	boom := errors.New("boom")
	tc, _ := testutil.NewTaskContext(testutil.StaticTransport("", boom))

	_, err := NewTask(testSpec("2023-01-01", "2023-01-01", nil, nil)).Execute(context.Background(), tc)
	if !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want boom", err)
	}
}

func TestTask_NextTask(t *testing.T) {
	tc, _ := testutil.NewTaskContext(nil)

	t.Run("next page of a root", func(t *testing.T) {
		spec := testSpec("2023-01-01", "2023-01-01", nil, nil)
		var result Result
		result.Search.PageInfo = task.PageInfo{HasNextPage: true, EndCursor: task.StringPtr("end")}

		next, ok := NewTask(spec).NextTask(tc, result)
		if !ok {
			t.Fatal("NextTask() returned nothing")
		}
		if next.ID == spec.ID {
			t.Error("next spec reused the id")
		}
		if next.ParentID != nil {
			t.Error("next spec should have no parent")
		}
		if task.Deref(next.OriginatingTaskID) != "deadbeef" {
			t.Errorf("OriginatingTaskID = %q, want deadbeef", task.Deref(next.OriginatingTaskID))
		}
		if task.Deref(next.StartCursor) != "end" {
			t.Errorf("StartCursor = %q, want end", task.Deref(next.StartCursor))
		}
		if next.Created() != spec.Created() || next.PageSize != spec.PageSize || next.MinStars != spec.MinStars {
			t.Error("scope fields must be copied verbatim")
		}
	})

	t.Run("next page of a continuation", func(t *testing.T) {
		spec := testSpec("2023-01-01", "2023-01-01", task.StringPtr("c1"), task.StringPtr("root"))
		var result Result
		result.Search.PageInfo = task.PageInfo{HasNextPage: true, EndCursor: task.StringPtr("c2")}

		next, ok := NewTask(spec).NextTask(tc, result)
		if !ok {
			t.Fatal("NextTask() returned nothing")
		}
		if task.Deref(next.OriginatingTaskID) != "root" {
			t.Errorf("OriginatingTaskID = %q, want root", task.Deref(next.OriginatingTaskID))
		}
	})

	t.Run("last page", func(t *testing.T) {
		var result Result
		if _, ok := NewTask(testSpec("2023-01-01", "2023-01-01", nil, nil)).NextTask(tc, result); ok {
			t.Error("NextTask() should return nothing without a next page")
		}
	})
}

func TestTask_NarrowedDownTasks(t *testing.T) {
	tc, _ := testutil.NewTaskContext(nil)

	tests := []struct {
		name       string
		spec       Spec
		wantRanges []string
		wantOrigin string
	}{
		{
			name: "single day",
			spec: testSpec("2023-01-01", "2023-01-01", nil, nil),
		},
		{
			name:       "two days",
			spec:       testSpec("2023-01-01", "2023-01-02", nil, nil),
			wantRanges: []string{"2023-01-01..2023-01-01", "2023-01-02..2023-01-02"},
		},
		{
			name:       "ten days",
			spec:       testSpec("2023-01-01", "2023-01-10", nil, nil),
			wantRanges: []string{"2023-01-01..2023-01-05", "2023-01-06..2023-01-10"},
		},
		{
			name:       "continuation narrows the originating interval",
			spec:       testSpec("2023-01-01", "2023-01-10", task.StringPtr("cursor"), task.StringPtr("beefdead")),
			wantRanges: []string{"2023-01-01..2023-01-05", "2023-01-06..2023-01-10"},
			wantOrigin: "beefdead",
		},
		{
			name: "single day continuation",
			spec: testSpec("2023-01-01", "2023-01-01", task.StringPtr("cursor"), task.StringPtr("beefdead")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			children := NewTask(tt.spec).NarrowedDownTasks(tc)
			if len(children) != len(tt.wantRanges) {
				t.Fatalf("got %d children, want %d", len(children), len(tt.wantRanges))
			}
			if tt.wantRanges == nil && children != nil {
				t.Error("NarrowedDownTasks() should return nil at minimum granularity")
			}
			for i, child := range children {
				if child.Created().String() != tt.wantRanges[i] {
					t.Errorf("child %d range = %s, want %s", i, child.Created(), tt.wantRanges[i])
				}
				if task.Deref(child.ParentID) != tt.spec.ID {
					t.Errorf("child %d parent = %q, want %q", i, task.Deref(child.ParentID), tt.spec.ID)
				}
				if task.Deref(child.OriginatingTaskID) != tt.wantOrigin {
					t.Errorf("child %d origin = %q, want %q", i, task.Deref(child.OriginatingTaskID), tt.wantOrigin)
				}
				if child.StartCursor != nil {
					t.Errorf("child %d should start without a cursor", i)
				}
				if child.PageSize != tt.spec.PageSize || child.HasActivityAfter != tt.spec.HasActivityAfter {
					t.Errorf("child %d did not keep the other fields", i)
				}
			}
		})
	}
}

func TestTask_SaveOutput_SkipsNullNodes(t *testing.T) {
	tc, buf := testutil.NewTaskContext(nil)

	var result Result
	result.Search.Nodes = []*Summary{{NameWithOwner: "a/a"}, nil, {NameWithOwner: "b/b"}}

	tk := NewTask(testSpec("2023-01-01", "2023-01-01", nil, nil))
	tk.SaveOutput(tc, result)

	records := buf.Records()
	if len(records) != 2 {
		t.Fatalf("saved %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.SourceSpecID != "deadbeef" {
			t.Errorf("SourceSpecID = %q, want deadbeef", rec.SourceSpecID)
		}
	}
	if records[1].Result.(*Summary).NameWithOwner != "b/b" {
		t.Errorf("second record = %+v", records[1].Result)
	}
}

func TestTask_ShouldRecordAsError(t *testing.T) {
	tk := NewTask(testSpec("2023-01-01", "2023-01-01", nil, nil))
	if tk.ShouldRecordAsError(&testutil.PartialError{Message: "null node"}) {
		t.Error("partial responses should not count as errors")
	}
	if !tk.ShouldRecordAsError(errors.New("timeout")) {
		t.Error("other errors should count")
	}
}
