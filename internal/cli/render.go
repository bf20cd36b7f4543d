package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"

	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/registry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func (a *app) render(v any, renderTable func(io.Writer)) error {
	switch a.flags.output {
	case OutputJSON:
		return writeJSON(a.opts.Out, v)
	case OutputTable, "":
		renderTable(a.opts.Out)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", a.flags.output)
	}
}

func renderRecords(w io.Writer, records []*plugin.Record) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Version", "State", "Enabled", "Error"})
	for _, r := range records {
		name, version := "", ""
		if r.Manifest != nil {
			name, version = r.Manifest.Name, r.Manifest.Version
		}
		t.AppendRow(table.Row{r.ID(), name, version, r.State, r.Enabled, r.Error})
	}
	t.Render()
}

func renderInfo(w io.Writer, r *plugin.Record) {
	m := r.Manifest
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", r.ID()},
		{"Name", m.Name},
		{"Version", m.Version},
		{"Description", m.Description},
		{"Author", m.Author},
		{"Path", r.Path},
		{"State", r.State},
		{"Enabled", r.Enabled},
		{"Main", m.Main},
		{"Engine", m.Engines.Host},
		{"Activation events", strings.Join(m.ActivationEvents, ", ")},
		{"Permissions", strings.Join(m.Permissions, ", ")},
	})
	if r.Error != "" {
		t.AppendRow(table.Row{"Error", r.Error})
	}
	for _, warn := range r.Warnings {
		t.AppendRow(table.Row{"Warning", warn})
	}
	t.Render()

	fmt.Fprintln(w)
	counts := newTable(w)
	counts.AppendHeader(table.Row{"Contribution", "Count"})
	for _, row := range contributionCounts(m.Contributes) {
		counts.AppendRow(table.Row{row.kind, row.n})
	}
	counts.AppendFooter(table.Row{"Total", m.Contributes.Count()})
	counts.Render()
}

type kindCount struct {
	kind registry.Kind
	n    int
}

func contributionCounts(c manifest.Contributes) []kindCount {
	return []kindCount{
		{registry.KindCommand, len(c.Commands)},
		{registry.KindSidebarPanel, len(c.SidebarPanels)},
		{registry.KindSetting, len(c.Settings)},
		{registry.KindKanbanAction, len(c.KanbanActions)},
		{registry.KindTaskValidator, len(c.TaskValidators)},
		{registry.KindTaskAnalyzer, len(c.TaskAnalyzers)},
		{registry.KindContextProvider, len(c.ContextProviders)},
		{registry.KindKeybinding, len(c.Keybindings)},
		{registry.KindMenuItem, len(c.MenuItems)},
	}
}

// hookView is the JSON shape of a hook registration.
type hookView struct {
	Hook     string `json:"hook"`
	Plugin   string `json:"plugin"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// hookViews lists registrations hook by hook in pipeline order.
func hookViews(reg *registry.Registry) []hookView {
	out := []hookView{}
	for _, h := range registry.Hooks {
		for _, r := range reg.HookRegistrations(h) {
			out = append(out, hookView{Hook: string(h), Plugin: r.PluginID, Priority: r.Priority, Enabled: r.Enabled})
		}
	}
	return out
}

func renderHooks(w io.Writer, hooks []hookView) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Hook", "Plugin", "Priority", "Enabled"})
	for _, h := range hooks {
		t.AppendRow(table.Row{h.Hook, h.Plugin, h.Priority, h.Enabled})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	t.Render()
}

// commandView is the JSON shape of a registered command.
type commandView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Category   string `json:"category,omitempty"`
	Plugin     string `json:"plugin"`
	HasHandler bool   `json:"hasHandler"`
}

func commandViews(cmds []registry.Command) []commandView {
	out := make([]commandView, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, commandView{
			ID:         c.ID,
			Title:      c.Title,
			Category:   c.Category,
			Plugin:     c.PluginID,
			HasHandler: c.Handler != nil,
		})
	}
	return out
}

func renderCommands(w io.Writer, cmds []commandView) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Command", "Title", "Category", "Plugin", "Handler"})
	for _, c := range cmds {
		t.AppendRow(table.Row{c.ID, c.Title, c.Category, c.Plugin, c.HasHandler})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, AutoMerge: true}})
	t.Render()
}
