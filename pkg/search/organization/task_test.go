package organization

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/search-harvester/internal/testutil"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

func testSpec(pageSize int, cursor, origin *string) Spec {
	return Spec{
		Meta:        task.Meta{ID: "deadbeef", OriginatingTaskID: origin},
		OrgName:     "opentr",
		PageSize:    pageSize,
		StartCursor: cursor,
	}
}

func TestTask_Execute(t *testing.T) {
	data := `{
		"rateLimit": {"limit": 5000, "remaining": 4900},
		"organization": {
			"login": "opentr",
			"repositories": {
				"pageInfo": {"hasNextPage": true, "endCursor": "next"},
				"nodes": [{"nameWithOwner": "opentr/a"}, null]
			}
		}
	}`
	transport := testutil.StaticTransport(data, nil)
	tc, _ := testutil.NewTaskContext(transport)

	result, err := NewTask(testSpec(5, task.StringPtr("start"), nil)).Execute(context.Background(), tc)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Organization == nil || result.Organization.Login != "opentr" {
		t.Fatalf("Organization = %+v", result.Organization)
	}
	if result.GetRateLimit().Remaining != 4900 {
		t.Errorf("Remaining = %d, want 4900", result.GetRateLimit().Remaining)
	}

	vars := transport.Calls()[0].Variables
	if vars["orgName"] != "opentr" || vars["first"] != 5 || vars["after"] != "start" {
		t.Errorf("variables = %v", vars)
	}
}

func TestTask_NextTask(t *testing.T) {
	tc, _ := testutil.NewTaskContext(nil)
	spec := testSpec(5, nil, nil)

	result := Result{Organization: &Organization{Repositories: Repositories{
		PageInfo: task.PageInfo{HasNextPage: true, EndCursor: task.StringPtr("end")},
	}}}
	next, ok := NewTask(spec).NextTask(tc, result)
	if !ok {
		t.Fatal("NextTask() returned nothing")
	}
	if task.Deref(next.StartCursor) != "end" || next.OrgName != "opentr" || next.PageSize != 5 {
		t.Errorf("next = %+v", next)
	}
	if task.Deref(next.OriginatingTaskID) != "deadbeef" || next.ParentID != nil {
		t.Errorf("next lineage = %+v", next.Meta)
	}

	if _, ok := NewTask(spec).NextTask(tc, Result{}); ok {
		t.Error("NextTask() should return nothing for a missing organization")
	}
}

func TestTask_NarrowedDownTasks(t *testing.T) {
	tc, _ := testutil.NewTaskContext(nil)

	tests := []struct {
		name         string
		pageSize     int
		cursor       *string
		wantPageSize int
	}{
		{name: "page size 1", pageSize: 1},
		{name: "page size 2", pageSize: 2, wantPageSize: 1},
		{name: "page size 25", pageSize: 25, wantPageSize: 12},
		{name: "keeps the cursor", pageSize: 10, cursor: task.StringPtr("cursor"), wantPageSize: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec(tt.pageSize, tt.cursor, task.StringPtr("beefdead"))
			children := NewTask(spec).NarrowedDownTasks(tc)
			if tt.wantPageSize == 0 {
				if children != nil {
					t.Errorf("NarrowedDownTasks() = %v, want nil", children)
				}
				return
			}
			if len(children) != 1 {
				t.Fatalf("got %d children, want 1", len(children))
			}
			child := children[0]
			if child.PageSize != tt.wantPageSize {
				t.Errorf("PageSize = %d, want %d", child.PageSize, tt.wantPageSize)
			}
			if task.Deref(child.StartCursor) != task.Deref(tt.cursor) {
				t.Errorf("StartCursor = %q, want %q", task.Deref(child.StartCursor), task.Deref(tt.cursor))
			}
			if task.Deref(child.ParentID) != "deadbeef" || task.Deref(child.OriginatingTaskID) != "beefdead" {
				t.Errorf("child lineage = %+v", child.Meta)
			}
		})
	}
}

func TestTask_SaveOutput(t *testing.T) {
	tc, buf := testutil.NewTaskContext(nil)
	tk := NewTask(testSpec(5, nil, nil))

	result := Result{Organization: &Organization{
		Login: "opentr",
		Repositories: Repositories{Nodes: []*Repository{
			{NameWithOwner: "opentr/a"}, nil, {NameWithOwner: "opentr/b"},
		}},
	}}
	tk.SaveOutput(tc, result)

	records := buf.Records()
	if len(records) != 1 {
		t.Fatalf("saved %d records, want 1 per page", len(records))
	}
	org := records[0].Result.(*Organization)
	if len(org.Repositories.Nodes) != 2 {
		t.Errorf("saved %d repositories, want 2", len(org.Repositories.Nodes))
	}
	if len(result.Organization.Repositories.Nodes) != 3 {
		t.Error("SaveOutput must not modify the result")
	}

	tk.SaveOutput(tc, Result{})
	if buf.Len() != 1 {
		t.Error("a missing organization should not be saved")
	}
}

func TestCommand_CreateNewQueueItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizations.json")
	b, _ := json.Marshal([]string{"opentr", "kubernetes", "opentr", ""})
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	tc, _ := testutil.NewTaskContext(nil)
	specs, err := NewCommand(Config{OrganizationsFile: path, PageSize: 25}).CreateNewQueueItems(tc)
	if err != nil {
		t.Fatalf("CreateNewQueueItems() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].OrgName != "opentr" || specs[1].OrgName != "kubernetes" {
		t.Errorf("specs = %+v", specs)
	}
	for _, s := range specs {
		if s.PageSize != 25 || s.StartCursor != nil || s.ParentID != nil || s.OriginatingTaskID != nil {
			t.Errorf("spec is not a fresh root: %+v", s)
		}
	}

	if _, err := NewCommand(Config{PageSize: 25}).CreateNewQueueItems(tc); err == nil {
		t.Error("CreateNewQueueItems() should fail without an organizations file")
	}
}
