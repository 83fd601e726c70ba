package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/tracker/internal/aggregate"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/output"
)

var reportCmd = &cobra.Command{
	Use:   "report <username>",
	Short: "Print a user's dashboard",
	Long: `Print the dashboard a user sees: project and issue counts, open issues
assigned to them, overdue issues and the latest activity in their projects.`,
	GroupID: "admin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		database, err := openDB()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		ctx := contextOrBackground(cmd)
		u, err := database.GetUserByUsername(ctx, args[0])
		if err != nil {
			output.Error("no user named %s", args[0])
			return err
		}
		now := time.Now()
		dash, err := aggregate.New(database, nil).Dashboard(ctx, u.Principal())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if asJSON {
			return output.JSON(dash)
		}

		var actorIDs []string
		for _, a := range dash.RecentActivities {
			actorIDs = append(actorIDs, a.UserID)
		}
		actors, err := database.GetUsersByIDs(ctx, actorIDs)
		if err != nil {
			return err
		}
		names := make(map[string]string, len(actors))
		for id, a := range actors {
			names[id] = a.Username
		}
		fmt.Println(renderReport(u, dash, names, now))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

var (
	reportTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statBox     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Align(lipgloss.Center)
	statValue = lipgloss.NewStyle().Bold(true)
	statWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimmed    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// renderReport lays out a dashboard as a title, a row of stat boxes and the
// recent activity list. names maps user IDs to usernames.
func renderReport(u *models.User, d *aggregate.Dashboard, names map[string]string, now time.Time) string {
	stat := func(label string, n int, style lipgloss.Style) string {
		return statBox.Render(style.Render(fmt.Sprint(n)) + "\n" + dimmed.Render(label))
	}
	overdue := statValue
	if d.OverdueIssues > 0 {
		overdue = statWarn
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top,
		stat("projects", d.TotalProjects, statValue),
		stat("issues", d.TotalIssues, statValue),
		stat("assigned", d.AssignedIssues, statValue),
		stat("overdue", d.OverdueIssues, overdue),
	)

	var b strings.Builder
	b.WriteString(reportTitle.Render("Dashboard for " + u.FullName() + " (@" + u.Username + ")"))
	b.WriteString("\n")
	b.WriteString(row)
	b.WriteString("\n\n")
	b.WriteString(reportTitle.Render("Recent activity"))
	b.WriteString("\n")
	if len(d.RecentActivities) == 0 {
		b.WriteString(dimmed.Render("  no activity yet"))
		return b.String()
	}
	for _, a := range d.RecentActivities {
		who := names[a.UserID]
		if who == "" {
			who = a.UserID
		}
		fmt.Fprintf(&b, "  %s %s %s\n", dimmed.Render(fmt.Sprintf("%-9s", output.FormatTimeAgo(a.CreatedAt, now))), who, a.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
