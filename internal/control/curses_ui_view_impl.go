package control

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
)

// CursesUIViewImpl implements UIViewImpl using tview (curses-based terminal UI)
type CursesUIViewImpl struct {
	logger *log.Logger
	app    *tview.Application
	model  *UIModel

	logView      *tview.TextView
	statusPanel  *tview.TextView
	instructions *tview.TextView
	mainFlex     *tview.Flex // status and instructions on the left, logs on the right
}

func NewCursesUIView(logger *log.Logger, app *tview.Application, model *UIModel) *CursesUIViewImpl {
	if logger == nil {
		panic("CursesUIViewImpl: logger cannot be nil")
	}
	if app == nil {
		panic("CursesUIViewImpl: app cannot be nil")
	}
	if model == nil {
		panic("CursesUIViewImpl: model cannot be nil")
	}
	return &CursesUIViewImpl{
		logger: logger,
		app:    app,
		model:  model,
	}
}

// Initialize sets up the tview widgets
func (ui *CursesUIViewImpl) Initialize(controller *UIController) {
	// No SetChangedFunc with app.Draw() here: it can hang during shutdown.
	// BaseUIView draws after updating content.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.statusPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.statusPanel.SetBorder(true).SetTitle(" Blind ")

	ui.instructions = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	ui.instructions.SetBorder(true).SetTitle(" Keys ")
	ui.instructions.SetText(instructionsText())

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.statusPanel, 0, 2, true).
		AddItem(ui.instructions, 0, 1, false)

	ui.mainFlex = tview.NewFlex().
		AddItem(leftColumn, 0, 1, true).
		AddItem(ui.logView, 0, 1, false)
}

// instructionsText lists the labelled key bindings, one per line
func instructionsText() string {
	var sb strings.Builder
	for _, binding := range AllKeyBindings {
		if binding.Label == "" {
			continue
		}
		fmt.Fprintf(&sb, " [yellow]%s[white] %s\n", binding.Label, binding.Description)
	}
	return sb.String()
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *CursesUIViewImpl) SetupKeyboardHandlers(controller *UIController) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			controller.OnEscapeKey()
			return nil
		case tcell.KeyUp:
			controller.MoveUp()
			return nil
		case tcell.KeyDown:
			controller.MoveDown()
			return nil
		case tcell.KeyRune:
			if controller.HandleKey(event.Rune()) {
				return nil
			}
		}
		return event
	})
}

// UpdateBlindState renders the blind state in the status panel
func (ui *CursesUIViewImpl) UpdateBlindState(st blind.State) {
	if ui.statusPanel == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString("\n")
	for _, line := range DescribeState(st) {
		label, value, found := strings.Cut(line, ": ")
		if !found {
			fmt.Fprintf(&sb, "  %s\n", line)
			continue
		}
		fmt.Fprintf(&sb, "  [gray]%s:[white] %s\n", label, colorValue(label, value, st))
	}
	if !st.PositionKnown && !st.TiltKnown {
		if last, ok := ui.model.GetLastKnown(); ok {
			fmt.Fprintf(&sb, "\n  [gray]Last known:[white] %s\n", describeLastKnown(last))
		}
	}
	ui.statusPanel.SetText(sb.String())
}

func colorValue(label, value string, st blind.State) string {
	switch label {
	case "Connection":
		switch st.Connection {
		case blind.Connected:
			return "[green]" + value + "[white]"
		case blind.Connecting:
			return "[yellow]" + value + "[white]"
		}
	case "Calibration":
		if st.Calibration != blind.Calibrated {
			return "[yellow]" + value + "[white]"
		}
	case "Battery":
		if st.Battery >= 0 && st.Battery < 20 {
			return "[red]" + value + "[white]"
		}
	}
	return value
}

// GetLogViewHeight returns the visible height of the log view
func (ui *CursesUIViewImpl) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

// ClearLogView clears the log view
func (ui *CursesUIViewImpl) ClearLogView() {
	ui.logView.Clear()
}

// WriteLogLine writes a line to the log view
func (ui *CursesUIViewImpl) WriteLogLine(line string) error {
	_, err := fmt.Fprintln(ui.logView, tview.Escape(line))
	return err
}

// Draw refreshes/redraws the UI
func (ui *CursesUIViewImpl) Draw() error {
	ui.app.Draw()
	return nil
}

// Run starts the UI and blocks until it exits
func (ui *CursesUIViewImpl) Run() error {
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.statusPanel)
	return ui.app.Run()
}

// Stop stops the UI framework
func (ui *CursesUIViewImpl) Stop() {
	ui.app.Stop()
}

func describeLastKnown(last LastKnownState) string {
	var parts []string
	if last.PositionKnown && last.Kind.SupportsPosition() {
		parts = append(parts, fmt.Sprintf("%.0f%% open", last.Position*100))
	}
	if last.TiltKnown && last.Kind.SupportsTilt() {
		parts = append(parts, fmt.Sprintf("tilt %.0f%%", last.Tilt*100))
	}
	if len(parts) == 0 {
		parts = append(parts, "no reading")
	}
	return fmt.Sprintf("%s [gray](%s)[white]", strings.Join(parts, ", "), last.Updated.Format("Jan 2 15:04"))
}
