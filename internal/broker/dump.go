package broker

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var statusStyles = map[Status]lipgloss.Style{
	Disconnected:       lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	ConnectedLocal:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	ConnectedTransport: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
}

var outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

// Dump writes one table row per registered address. Stuck steps are
// diagnosed from the disconnected rows.
func (b *Broker) Dump(w io.Writer) error {
	entries := b.Entries()
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := outputStyle.Render("output")
		if e.Status != "" {
			status = statusStyles[e.Status].Render(string(e.Status))
		}
		rows = append(rows, []string{e.Owner, string(e.Role), e.Address, e.MsgType, status, e.Source})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("owner", "role", "address", "msg_type", "status", "source").
		Rows(rows...)
	_, err := fmt.Fprintf(w, "BROKER %q\n%s\n", b.name, t.String())
	return err
}
