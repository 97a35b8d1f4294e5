// ABOUTME: Bubbletea model for the stream statistics TUI
// ABOUTME: Tracks raw and encoded bytes per chunk and renders compression ratios
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// recentChunks is the number of chunks listed in the view
const recentChunks = 8

// ChunkStat describes one encoded chunk
type ChunkStat struct {
	Frame        uint64
	Samples      int
	RawBytes     int
	EncodedBytes int
}

// Ratio returns encoded size as a fraction of raw size
func (c ChunkStat) Ratio() float64 {
	return ratio(int64(c.EncodedBytes), int64(c.RawBytes))
}

// Model represents the TUI state
type Model struct {
	// Stream
	source     string
	sampleRate int
	channels   int
	bitDepth   int
	level      int

	// Stats
	header       int
	chunks       []ChunkStat
	totalChunks  int64
	totalSamples int64
	rawBytes     int64
	encodedBytes int64

	// State
	state     string
	err       error
	showList  bool
	quitting  bool
	startTime time.Time
	elapsed   time.Duration

	quitChan chan struct{}

	// Dimensions
	width  int
	height int
}

// StreamMsg describes the stream being encoded
type StreamMsg struct {
	Source           string
	SampleRate       int
	Channels         int
	BitDepth         int
	CompressionLevel int
	HeaderBytes      int
}

// ChunkMsg reports one encoded chunk
type ChunkMsg ChunkStat

// DoneMsg reports the end of the stream
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// NewModel creates a new TUI model. quit may be nil.
func NewModel(quit chan struct{}) Model {
	return Model{
		state:     "waiting",
		showList:  true,
		startTime: time.Now(),
		quitChan:  quit,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second/4, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		if m.state == "encoding" || m.state == "waiting" {
			m.elapsed = time.Since(m.startTime)
		}
		return m, tickEvery()
	case StreamMsg:
		m.applyStream(msg)
	case ChunkMsg:
		m.applyChunk(ChunkStat(msg))
	case DoneMsg:
		m.applyDone(msg)
	}

	return m, nil
}

func (m *Model) applyStream(msg StreamMsg) {
	m.source = msg.Source
	m.sampleRate = msg.SampleRate
	m.channels = msg.Channels
	m.bitDepth = msg.BitDepth
	m.level = msg.CompressionLevel
	m.header = msg.HeaderBytes
	m.state = "encoding"
	m.startTime = time.Now()
}

func (m *Model) applyChunk(c ChunkStat) {
	m.totalChunks++
	m.totalSamples += int64(c.Samples)
	m.rawBytes += int64(c.RawBytes)
	m.encodedBytes += int64(c.EncodedBytes)

	m.chunks = append(m.chunks, c)
	if len(m.chunks) > recentChunks {
		m.chunks = m.chunks[len(m.chunks)-recentChunks:]
	}
}

func (m *Model) applyDone(msg DoneMsg) {
	m.err = msg.Err
	if msg.Err != nil {
		m.state = "error"
	} else {
		m.state = "finished"
	}
	m.elapsed = time.Since(m.startTime)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.quitChan != nil {
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "l":
		m.showList = !m.showList
	}
	return m, nil
}

// Ratio returns the overall compression ratio
func (m Model) Ratio() float64 {
	return ratio(m.encodedBytes, m.rawBytes)
}

func ratio(encoded, raw int64) float64 {
	if raw == 0 {
		return 0
	}
	return float64(encoded) / float64(raw)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	listHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping stream...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("FLAC Stream Encoder"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Source", m.source)
	if m.sampleRate > 0 {
		field("Format", fmt.Sprintf("%dHz %s %d-bit, level %d", m.sampleRate, channelName(m.channels), m.bitDepth, m.level))
	}
	field("State", m.state)
	field("Elapsed", m.elapsed.Round(time.Millisecond).String())
	field("Header", fmt.Sprintf("%d bytes", m.header))
	field("Chunks", fmt.Sprintf("%d (%d samples)", m.totalChunks, m.totalSamples))
	field("Raw", formatBytes(m.rawBytes))
	field("Encoded", formatBytes(m.encodedBytes))
	field("Ratio", fmt.Sprintf("%.1f%%", m.Ratio()*100))

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if m.showList {
		b.WriteString("\n")
		b.WriteString(listHeaderStyle.Render(fmt.Sprintf("Recent chunks (%d)", len(m.chunks))))
		b.WriteString("\n")
		if len(m.chunks) == 0 {
			b.WriteString(valueStyle.Render("  No chunks yet"))
			b.WriteString("\n")
		}
		for _, c := range m.chunks {
			b.WriteString(fmt.Sprintf("  #%-6d %6d samples %8d -> %-8d", c.Frame, c.Samples, c.RawBytes, c.EncodedBytes))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" %5.1f%%", c.Ratio()*100)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("l: toggle chunk list  q: quit"))

	return b.String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	}
	return fmt.Sprintf("%dch", channels)
}
