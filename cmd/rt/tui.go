package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	cl "rippletrade/internal/cli"
	"rippletrade/internal/game"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// runner drives one run, either in process or against the API.
type runner interface {
	Advance(ctx context.Context) (game.RunView, error)
	Order(ctx context.Context, symbol string, side game.Side, qty decimal.Decimal) (game.Fill, error)
	Finish(ctx context.Context) (game.Result, error)
}

type localRunner struct {
	svc    *game.Service
	userID string
	runID  string
}

func (r *localRunner) Advance(ctx context.Context) (game.RunView, error) {
	return r.svc.Advance(ctx, r.userID, r.runID)
}

func (r *localRunner) Order(ctx context.Context, symbol string, side game.Side, qty decimal.Decimal) (game.Fill, error) {
	return r.svc.PlaceOrder(ctx, game.OrderInput{
		UserID:         r.userID,
		RunID:          r.runID,
		Symbol:         symbol,
		Side:           string(side),
		Quantity:       qty,
		IdempotencyKey: uuid.NewString(),
	})
}

func (r *localRunner) Finish(ctx context.Context) (game.Result, error) {
	return r.svc.Finish(ctx, r.userID, r.runID)
}

type remoteRunner struct {
	client *cl.Client
	token  string
	runID  string
}

func (r *remoteRunner) Advance(ctx context.Context) (game.RunView, error) {
	return r.client.Advance(ctx, r.token, r.runID)
}

func (r *remoteRunner) Order(ctx context.Context, symbol string, side game.Side, qty decimal.Decimal) (game.Fill, error) {
	return r.client.PlaceOrder(ctx, r.token, r.runID, symbol, string(side), qty, uuid.NewString())
}

func (r *remoteRunner) Finish(ctx context.Context) (game.Result, error) {
	return r.client.Finish(ctx, r.token, r.runID)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	newsStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).PaddingLeft(1)
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

type advancedMsg struct {
	view game.RunView
	err  error
}

type filledMsg struct {
	fill game.Fill
	err  error
}

type finishedMsg struct {
	result game.Result
	err    error
}

type playModel struct {
	ctx     context.Context
	run     runner
	view    game.RunView
	prev    map[string]float64
	symbols []string

	table table.Model
	qty   textinput.Model
	side  game.Side

	busy     bool
	status   string
	result   *game.Result
	quitting bool
}

func newPlayModel(ctx context.Context, r runner, view game.RunView) playModel {
	symbols := make([]string, 0, len(view.Prices))
	for sym := range view.Prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 8},
			{Title: "Price", Width: 14},
			{Title: "Change", Width: 9},
			{Title: "Held", Width: 12},
			{Title: "Value", Width: 14},
		}),
		table.WithFocused(true),
		table.WithHeight(min(len(symbols)+1, 12)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Bold(false)
	t.SetStyles(styles)

	qty := textinput.New()
	qty.Placeholder = "quantity"
	qty.CharLimit = 16
	qty.Width = 16

	m := playModel{
		ctx:     ctx,
		run:     r,
		view:    view,
		prev:    copyPrices(view.Prices),
		symbols: symbols,
		table:   t,
		qty:     qty,
		status:  "n: next day  b/s: buy/sell selected  q: quit",
	}
	m.refreshRows()
	return m
}

func (m playModel) Init() tea.Cmd { return nil }

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case advancedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "advance failed: " + msg.err.Error()
			return m, nil
		}
		m.prev = copyPrices(m.view.Prices)
		m.view = msg.view
		m.refreshRows()
		m.status = fmt.Sprintf("Day %d of %d played.", m.view.Day, m.view.Days)
		if m.view.Status == "completed" {
			m.status = "Market closed. Press f to finish the run."
		}
		return m, nil
	case filledMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "order rejected: " + msg.err.Error()
			return m, nil
		}
		f := msg.fill
		m.view.Cash = f.Cash
		m.applyFill(f)
		m.refreshRows()
		m.status = fmt.Sprintf("%s %s %s @ %s (fee %s)", strings.ToUpper(string(f.Side)), f.Quantity.String(), f.Symbol,
			formatMoney(f.Price), formatMoney(f.Fee))
		return m, nil
	case finishedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "finish failed: " + msg.err.Error()
			return m, nil
		}
		m.result = &msg.result
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		if m.side != "" {
			return m.updateOrderEntry(msg)
		}
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "n", " ":
			if m.view.Status == "completed" {
				m.status = "No days left. Press f to finish."
				return m, nil
			}
			m.busy = true
			m.status = "Advancing..."
			return m, m.advance()
		case "f":
			if m.view.Status != "completed" {
				m.status = fmt.Sprintf("%d days left to play.", m.view.Days-m.view.Day)
				return m, nil
			}
			m.busy = true
			m.status = "Finishing..."
			return m, m.finish()
		case "b", "s":
			if m.view.Status == "completed" {
				m.status = "Trading is closed."
				return m, nil
			}
			m.side = game.SideBuy
			if msg.String() == "s" {
				m.side = game.SideSell
			}
			m.qty.SetValue("")
			return m, m.qty.Focus()
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m playModel) updateOrderEntry(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.side = ""
		m.qty.Blur()
		m.status = "Order cancelled."
		return m, nil
	case "enter":
		side := m.side
		m.side = ""
		m.qty.Blur()
		qty, err := game.ParseQuantity(m.qty.Value())
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		row := m.table.SelectedRow()
		if len(row) == 0 {
			m.status = "Select a symbol first."
			return m, nil
		}
		m.busy = true
		m.status = "Placing order..."
		return m, m.order(row[0], side, qty)
	}
	var cmd tea.Cmd
	m.qty, cmd = m.qty.Update(msg)
	return m, cmd
}

func (m playModel) advance() tea.Cmd {
	return func() tea.Msg {
		view, err := m.run.Advance(m.ctx)
		return advancedMsg{view: view, err: err}
	}
}

func (m playModel) order(symbol string, side game.Side, qty decimal.Decimal) tea.Cmd {
	return func() tea.Msg {
		fill, err := m.run.Order(m.ctx, symbol, side, qty)
		return filledMsg{fill: fill, err: err}
	}
}

func (m playModel) finish() tea.Cmd {
	return func() tea.Msg {
		res, err := m.run.Finish(m.ctx)
		return finishedMsg{result: res, err: err}
	}
}

// applyFill updates the held quantity locally so the table reflects an
// order before the next day is played.
func (m *playModel) applyFill(f game.Fill) {
	for i, p := range m.view.Positions {
		if p.Symbol != f.Symbol {
			continue
		}
		if f.Side == game.SideBuy {
			m.view.Positions[i].Quantity = p.Quantity.Add(f.Quantity)
		} else {
			m.view.Positions[i].Quantity = p.Quantity.Sub(f.Quantity)
		}
		m.view.Positions[i].Value = m.view.Positions[i].Quantity.Mul(f.Price)
		return
	}
	if f.Side == game.SideBuy {
		m.view.Positions = append(m.view.Positions, game.PositionView{
			Symbol:   f.Symbol,
			Quantity: f.Quantity,
			AvgPrice: f.Price,
			Price:    f.Price,
			Value:    f.Quantity.Mul(f.Price),
		})
	}
}

func (m *playModel) refreshRows() {
	held := make(map[string]game.PositionView, len(m.view.Positions))
	for _, p := range m.view.Positions {
		held[p.Symbol] = p
	}
	rows := make([]table.Row, 0, len(m.symbols))
	for _, sym := range m.symbols {
		price := m.view.Prices[sym]
		change := percentChange(m.prev[sym], price)
		changeText := fmt.Sprintf("%+.2f%%", change)
		qty, value := "-", "-"
		if p, ok := held[sym]; ok && !p.Quantity.IsZero() {
			qty = p.Quantity.String()
			value = formatMoney(p.Value)
		}
		rows = append(rows, table.Row{sym, formatMoney(game.PriceOf(price)), changeText, qty, value})
	}
	m.table.SetRows(rows)
}

func (m playModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	header := fmt.Sprintf("%s  seed %d  day %d/%d", m.view.ScenarioID, m.view.Seed, m.view.Day, m.view.Days)
	if m.view.Label != "" {
		header += "  " + m.view.Label
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("cash %s  net worth %s  debt limit %s",
		formatMoney(m.view.Cash), formatMoney(m.view.NetWorth), formatMoney(m.view.DebtLimit))))
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(m.table.View()))
	b.WriteString("\n")

	if len(m.view.News) > 0 {
		b.WriteString(titleStyle.Render("News"))
		b.WriteString("\n")
		for _, n := range m.view.News {
			style := upStyle
			if n.Magnitude < 0 {
				style = downStyle
			}
			b.WriteString(style.Render("*"))
			b.WriteString(newsStyle.Render(n.Text))
			b.WriteString("\n")
		}
	}

	if m.side != "" {
		row := m.table.SelectedRow()
		sym := ""
		if len(row) > 0 {
			sym = row[0]
		}
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(fmt.Sprintf("%s %s: ", strings.ToUpper(string(m.side)), sym)))
		b.WriteString(m.qty.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: place  esc: cancel"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("up/down: select  n: next day  b: buy  s: sell  f: finish  q: quit"))
	b.WriteString("\n")
	return b.String()
}

func copyPrices(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// runPlay runs the TUI and returns the finished result, or nil if the
// player quit first.
func runPlay(ctx context.Context, r runner, view game.RunView) (*game.Result, error) {
	final, err := tea.NewProgram(newPlayModel(ctx, r, view), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(playModel)
	if !ok {
		return nil, nil
	}
	return m.result, nil
}
