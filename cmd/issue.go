package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/marcus/tracker/internal/output"
	"github.com/marcus/tracker/internal/service"
)

var issueCmd = &cobra.Command{
	Use:     "issue",
	Short:   "Inspect issues",
	GroupID: "admin",
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Print an issue with its comments",
	Long: `Print an issue, including soft-deleted ones, with its description
rendered as markdown and its comment threads.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		width, _ := cmd.Flags().GetInt("width")

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		svc, err := newService(database)
		if err != nil {
			return err
		}
		ctx := contextOrBackground(cmd)
		d, err := svc.AdminGetIssue(ctx, operator, args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		comments, err := svc.ListComments(ctx, operator, d.ID)
		if err != nil && !errors.Is(err, service.ErrNotFound) {
			return err
		}
		if asJSON {
			return output.JSON(map[string]interface{}{"issue": d, "comments": comments})
		}

		ids := []string{d.ReporterID, d.AssigneeID}
		walkComments(comments, func(c *service.CommentNode) { ids = append(ids, c.AuthorID) })
		users, err := database.GetUsersByIDs(ctx, ids)
		if err != nil {
			return err
		}
		names := make(map[string]string, len(users))
		for id, u := range users {
			names[id] = u.Username
		}

		out, err := renderIssue(d, comments, names, time.Now(), issueRenderOptions{Width: width})
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.AddCommand(issueShowCmd)

	issueShowCmd.Flags().Bool("json", false, "Output as JSON")
	issueShowCmd.Flags().Int("width", 80, "Wrap the description at this width")
}

type issueRenderOptions struct {
	Width int
	Style string // glamour style name; empty picks one for the terminal
}

// renderIssue formats an issue header, its markdown description and the
// comment tree. names maps user IDs to usernames.
func renderIssue(d *service.IssueDetail, comments []service.CommentNode, names map[string]string, now time.Time, opts issueRenderOptions) (string, error) {
	who := func(id string) string {
		if id == "" {
			return "unassigned"
		}
		if n, ok := names[id]; ok {
			return "@" + n
		}
		return id
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s\n", d.ID, d.Title, output.FormatStatus(d.Status))
	if !d.IsActive {
		b.WriteString("(deleted)\n")
	}
	fmt.Fprintf(&b, "Project:  %s\n", d.ProjectName)
	fmt.Fprintf(&b, "Priority: %s  Severity: %s\n", output.FormatPriority(d.Priority), d.Severity.Label())
	fmt.Fprintf(&b, "Reporter: %s  Assignee: %s\n", who(d.ReporterID), who(d.AssigneeID))
	if d.DueDate != nil {
		due := d.DueDate.Format("2006-01-02")
		if d.IsOverdue {
			due += " (overdue)"
		}
		fmt.Fprintf(&b, "Due:      %s\n", due)
	}
	if d.EstimatedHours != nil {
		fmt.Fprintf(&b, "Estimate: %gh\n", *d.EstimatedHours)
	}
	if len(d.Labels) > 0 {
		labels := make([]string, len(d.Labels))
		for i, l := range d.Labels {
			labels[i] = l.Name
		}
		fmt.Fprintf(&b, "Labels:   %s\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, "Created:  %s  Updated: %s\n", output.FormatTimeAgo(d.CreatedAt, now), output.FormatTimeAgo(d.UpdatedAt, now))

	if strings.TrimSpace(d.Description) != "" {
		md, err := renderMarkdown(d.Description, opts)
		if err != nil {
			return "", err
		}
		b.WriteString(md)
	} else {
		b.WriteString("\n")
	}

	if len(comments) > 0 {
		fmt.Fprintf(&b, "Comments (%d):\n", d.CommentsCount)
		b.WriteString(output.RenderTree(commentTree(comments, who, now), output.TreeRenderOptions{}))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func renderMarkdown(md string, opts issueRenderOptions) (string, error) {
	style := glamour.WithAutoStyle()
	if opts.Style != "" {
		style = glamour.WithStandardStyle(opts.Style)
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return out, nil
}

func commentTree(nodes []service.CommentNode, who func(string) string, now time.Time) []output.TreeNode {
	out := make([]output.TreeNode, len(nodes))
	for i, n := range nodes {
		meta := who(n.AuthorID) + ", " + output.FormatTimeAgo(n.CreatedAt, now)
		if n.IsEdited {
			meta += ", edited"
		}
		out[i] = output.TreeNode{
			ID:       n.ID,
			Title:    n.Content,
			Meta:     meta,
			Children: commentTree(n.Replies, who, now),
		}
	}
	return out
}

func walkComments(nodes []service.CommentNode, fn func(*service.CommentNode)) {
	for i := range nodes {
		fn(&nodes[i])
		walkComments(nodes[i].Replies, fn)
	}
}
