package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/gamestorm/internal/metrics"
)

// RunInfo holds run parameters for display.
type RunInfo struct {
	Target       string
	Scenario     string
	Clients      int
	Duration     time.Duration
	SendInterval time.Duration
	Arrival      string
	BestEffort   bool
	ConfigFile   string
}

const historyLen = 100

// Dashboard renders a live terminal UI for run metrics.
type Dashboard struct {
	source       metrics.SnapshotSource
	info         RunInfo
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid        *ui.Grid
	summaryPara *widgets.Paragraph
	zoneGauge   *widgets.Gauge
	trafficPara *widgets.Paragraph
	latencyLine *widgets.SparklineGroup
	latencyPara *widgets.Paragraph
	errorList   *widgets.List
	kindList    *widgets.List

	p95History []float64
}

// New initialises the terminal. shutdownFunc is called when the user presses
// q or Ctrl-C.
func New(source metrics.SnapshotSource, info RunInfo, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:       source,
		info:         info,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		p95History:   make([]float64, 0, historyLen),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.zoneGauge = widgets.NewGauge()
	d.zoneGauge.Title = "Players In Zone"
	d.zoneGauge.BarColor = ui.ColorGreen
	d.zoneGauge.BorderStyle.Fg = ui.ColorCyan
	d.zoneGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.trafficPara = widgets.NewParagraph()
	d.trafficPara.Title = "Traffic"
	d.trafficPara.Text = "Waiting for data..."
	d.trafficPara.BorderStyle.Fg = ui.ColorCyan

	spark := widgets.NewSparkline()
	spark.Title = "p95 latency (ms)"
	spark.LineColor = ui.ColorGreen
	spark.Data = []float64{0}
	d.latencyLine = widgets.NewSparklineGroup(spark)
	d.latencyLine.Title = "Input Latency"
	d.latencyLine.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Timing"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Errors"
	d.errorList.Rows = []string{"[No errors](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.kindList = widgets.NewList()
	d.kindList.Title = "Frames By Kind"
	d.kindList.Rows = []string{"Awaiting data"}
	d.kindList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.kindList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.2,
			ui.NewCol(0.5, d.zoneGauge),
			ui.NewCol(0.5, d.trafficPara),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.6, d.latencyLine),
			ui.NewCol(0.4, d.latencyPara),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.5, d.kindList),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop() cancels the context once the run has drained.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(d.source.Snapshot())
			d.render()
		}
	}
}

func (d *Dashboard) update(snap metrics.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if snap.Latency.Count > 0 {
		d.p95History = pushHistory(d.p95History, snap.Latency.P95Ms, historyLen)
		d.latencyLine.Sparklines[0].Data = d.p95History
		d.latencyLine.Title = fmt.Sprintf("Input Latency | p95 %.1fms | max %.1fms", snap.Latency.P95Ms, snap.Latency.MaxMs)
	}

	percent, label := zoneGauge(snap.SessionsInZone, d.info.Clients)
	d.zoneGauge.Percent = percent
	d.zoneGauge.Label = label

	d.summaryPara.Text = formatSummary(d.info, snap)
	d.trafficPara.Text = formatTraffic(snap)
	d.latencyPara.Text = formatTiming(snap)
	d.errorList.Rows = formatErrorRows(snap.Errors)
	d.kindList.Rows = formatKindRows(snap)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func pushHistory(hist []float64, v float64, max int) []float64 {
	hist = append(hist, v)
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	return hist
}

func zoneGauge(inZone int64, target int) (int, string) {
	if target <= 0 {
		return 0, fmt.Sprintf("%d in zone", inZone)
	}
	percent := int(float64(inZone) / float64(target) * 100)
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent, fmt.Sprintf("%d / %d in zone", inZone, target)
}

func formatSummary(info RunInfo, snap metrics.Snapshot) string {
	var parts []string
	if info.Scenario != "" {
		parts = append(parts, "Scenario: "+info.Scenario)
	}
	if info.Clients > 0 {
		parts = append(parts, fmt.Sprintf("Clients: %d", info.Clients))
	}
	if info.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", info.Duration))
	}
	if info.SendInterval > 0 {
		parts = append(parts, fmt.Sprintf("Send: every %s", info.SendInterval))
	}
	if info.Arrival != "" {
		parts = append(parts, "Arrival: "+info.Arrival)
	}
	if info.BestEffort {
		parts = append(parts, "Handshake: best effort")
	}
	if info.ConfigFile != "" {
		parts = append(parts, "Config: "+info.ConfigFile)
	}

	elapsed := time.Duration(snap.ElapsedSeconds * float64(time.Second)).Round(time.Second)
	text := fmt.Sprintf("Target: %s\n%s\nElapsed: %s | Connected: %d | Reached Active: %d | Error Rate: %.2f%%",
		info.Target,
		strings.Join(parts, " | "),
		elapsed,
		snap.SessionsConnected,
		snap.SessionsReachedActive,
		snap.ErrorRatePercent,
	)
	if snap.Resources.Samples > 0 {
		text += fmt.Sprintf(" | CPU: %.0f%% | Mem: %.0f%%", snap.Resources.CPUPercent, snap.Resources.MemoryPercent)
	}
	return text
}

func formatTraffic(snap metrics.Snapshot) string {
	return fmt.Sprintf(
		"Frames Sent:     %d (%.1f/s)\nFrames Received: %d (%.1f/s)\nMbps Out / In:   %.3f / %.3f\nConnect Fails:   %d\nHandshake Fails: %d",
		snap.FramesSent, snap.FramesSentPerSec,
		snap.FramesReceived, snap.FramesReceivedPerSec,
		snap.MbpsSent, snap.MbpsReceived,
		snap.ConnectionFailures,
		snap.HandshakeFailures,
	)
}

func formatTiming(snap metrics.Snapshot) string {
	lines := []string{
		distributionLine("Latency", snap.Latency),
		distributionLine("RTT", snap.RTT),
		distributionLine("Tick lag", snap.TickLagEstimated),
	}
	for _, phase := range []string{metrics.PhaseConnect, metrics.PhaseAuth, metrics.PhaseJoin} {
		if st, ok := snap.Handshake[phase]; ok && st.Count > 0 {
			lines = append(lines, fmt.Sprintf("%-8s p95 %.1fms", phase+":", st.P95Ms))
		}
	}
	return strings.Join(lines, "\n")
}

func distributionLine(name string, d metrics.Distribution) string {
	if d.Label != "" {
		name = fmt.Sprintf("%s (%s)", name, d.Label)
	}
	if d.Count == 0 {
		return name + ": n/a"
	}
	return fmt.Sprintf("%s: mean %.1f / p95 %.1f / p99 %.1f ms", name, d.MeanMs, d.P95Ms, d.P99Ms)
}

func formatErrorRows(errs map[string]uint64) []string {
	rows := metrics.FlattenCounts(errs)
	if len(rows) == 0 {
		return []string{"[No errors](fg:green)"}
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", metrics.FriendlyErrorName(row.Name), row.Count))
	}
	return formatted
}

func formatKindRows(snap metrics.Snapshot) []string {
	var formatted []string
	for _, row := range metrics.FlattenCounts(snap.FramesSentByKind) {
		formatted = append(formatted, fmt.Sprintf("[out](fg:cyan) %-16s %d", row.Name, row.Count))
	}
	for _, row := range metrics.FlattenCounts(snap.FramesReceivedByKind) {
		formatted = append(formatted, fmt.Sprintf("[in ](fg:green) %-16s %d", row.Name, row.Count))
	}
	if len(formatted) == 0 {
		return []string{"Awaiting data"}
	}
	return formatted
}
