package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/tracker/internal/models"
)

func TestRenderTreeLines_Empty(t *testing.T) {
	lines := RenderTreeLines(nil, TreeRenderOptions{})
	if len(lines) != 0 {
		t.Errorf("expected empty lines, got %d", len(lines))
	}
}

func TestRenderTreeLines_MultipleNodes(t *testing.T) {
	nodes := []TreeNode{
		{ID: "c1", Title: "First", Meta: "alice"},
		{ID: "c2", Title: "Second"},
	}
	lines := RenderTreeLines(nodes, TreeRenderOptions{ShowID: true})

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "├── c1: First (alice)" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "└── c2: Second" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestRenderTreeLines_WithChildren(t *testing.T) {
	nodes := []TreeNode{
		{
			Title: "Parent",
			Children: []TreeNode{
				{Title: "Child 1"},
				{Title: "Child 2", Children: []TreeNode{{Title: "Grandchild"}}},
			},
		},
		{Title: "Sibling"},
	}
	got := RenderTree(nodes, TreeRenderOptions{})
	want := strings.Join([]string{
		"├── Parent",
		"│   ├── Child 1",
		"│   └── Child 2",
		"│       └── Grandchild",
		"└── Sibling",
	}, "\n")
	if got != want {
		t.Errorf("tree:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderTreeLines_MaxDepth(t *testing.T) {
	nodes := []TreeNode{{Title: "Parent", Children: []TreeNode{{Title: "Child"}}}}
	lines := RenderTreeLines(nodes, TreeRenderOptions{MaxDepth: 1})
	if len(lines) != 1 {
		t.Errorf("expected depth-limited output, got %v", lines)
	}
}

func TestRenderTreeLines_MultilineTitle(t *testing.T) {
	lines := RenderTreeLines([]TreeNode{{Title: "line one\nline two"}}, TreeRenderOptions{})
	if lines[0] != "└── line one …" {
		t.Errorf("line = %q", lines[0])
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
		{60 * 24 * time.Hour, "2024-04-02"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestFormatStatusContainsName(t *testing.T) {
	for _, s := range models.Statuses() {
		if got := FormatStatus(s); !strings.Contains(got, "["+string(s)+"]") {
			t.Errorf("FormatStatus(%s) = %q", s, got)
		}
	}
}
