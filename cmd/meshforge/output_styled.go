package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"meshforge/pkg/alloc"
	"meshforge/pkg/mesh"
	"meshforge/pkg/orchestrator"
	"meshforge/pkg/store"
)

// Style definitions
var (
	primaryColor = lipgloss.Color("#FF79C6") // Pink
	accentColor  = lipgloss.Color("#50FA7B") // Green
	warningColor = lipgloss.Color("#FFB86C") // Orange
	mutedColor   = lipgloss.Color("#6272A4") // Comment
	bgLightColor = lipgloss.Color("#44475A") // Current Line
	fgColor      = lipgloss.Color("#F8F8F2") // Foreground

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	accentStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD")).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func allocationTable(spec mesh.NetworkSpec, assignment alloc.Assignment) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		})

	t.Headers("NODE", "ADDRESS", "ROLE", "PUBLIC", "GROUPS")

	for _, name := range assignment.Names() {
		node, _ := spec.Node(name)
		public := "-"
		if node.Public != nil {
			public = node.Public.String()
		}
		groups := "-"
		if g := node.SortedGroups(); len(g) > 0 {
			groups = strings.Join(g, ", ")
		}
		t.Row(name, assignment[name].String(), roleLabel(node), public, groups)
	}
	return t
}

func roleLabel(node mesh.NodeSpec) string {
	switch {
	case node.IsLighthouse && node.IsRelay:
		return "lighthouse+relay"
	case node.IsLighthouse:
		return "lighthouse"
	case node.IsRelay:
		return "relay"
	default:
		return "node"
	}
}

func renderPlanTable(spec mesh.NetworkSpec, assignment alloc.Assignment) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Allocation plan for %s (%s)", spec.SanitizedCAName(), spec.Subnet)))
	b.WriteString("\n")
	b.WriteString(allocationTable(spec, assignment).Render())
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d of %d usable addresses assigned", len(assignment), spec.Subnet.Capacity())))
	return b.String()
}

func renderGenerateSummary(set *orchestrator.ArtifactSet, run *store.Run, outDir string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Artifacts generated for %s", set.Spec.SanitizedCAName())))
	b.WriteString("\n")
	b.WriteString(allocationTable(set.Spec, set.Assignment).Render())
	b.WriteString("\n")
	b.WriteString(accentStyle.Render(fmt.Sprintf("✓ %d nodes written to %s", len(set.Certificates), outDir)))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("run %s · CA fingerprint %s · CA expires %s",
		run.ID, shortFingerprint(run.CAFingerprint), set.Authority.NotAfter().Format("2006-01-02"))))
	return b.String()
}

func renderRunsTable(runs []store.Run) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		})

	t.Headers("RUN", "CREATED", "SUBNET", "CA FINGERPRINT")
	for _, run := range runs {
		t.Row(run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.Subnet, shortFingerprint(run.CAFingerprint))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Recorded runs for %s", runs[0].Network)))
	b.WriteString("\n")
	b.WriteString(t.Render())
	if len(runs) > 1 {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(warningColor).Render(
			fmt.Sprintf("⚠ network was re-keyed %d time(s); only the newest CA is trusted", len(runs)-1)))
	}
	return b.String()
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16] + "…"
	}
	return fp
}
