package main

import (
	"github.com/danmuck/linkstack/internal/admin"
	"github.com/jedib0t/go-pretty/table"
)

// renderStatus formats service and link counters; renderLayers covers buffers.
func renderStatus(st admin.Status) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"service", st.Service},
		{"uptime", st.Uptime},
		{"link", st.Link.ID},
		{"state", st.Link.State},
		{"queued bytes", st.Link.QueuedBytes},
		{"frames sent", st.Link.FramesSent},
		{"bytes sent", st.Link.BytesSent},
		{"retries", st.Link.Retries},
		{"send errors", st.Link.SendErrors},
		{"recv errors", st.Link.RecvErrors},
		{"payloads delivered", st.Link.PayloadsDelivered},
		{"dropped bytes", st.Link.DroppedBytes},
	})
	return t.Render()
}

func renderLayers(st admin.Status) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Layer", "Send buffered", "Recv buffered"})
	for i, l := range st.Link.Layers {
		t.AppendRow(table.Row{i, l.Name, l.SendBytes, l.RecvBytes})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1}, // position, head first
		{Number: 2}, // layer name
		{Number: 3}, // send buffer
		{Number: 4}, // recv buffer
	})
	return t.Render()
}
