package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"rippletrade/internal/game"
	"rippletrade/internal/room"
	"rippletrade/internal/scenario"
	"rippletrade/internal/sim"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func renderScenarios(rows []scenario.Summary) {
	accent.Printf("\n== SCENARIOS ==\n")
	if len(rows) == 0 {
		printInfo("No scenarios available.")
		return
	}
	fmt.Printf("%-16s %-24s %6s %7s\n", "ID", "TITLE", "DAYS", "ASSETS")
	for _, s := range rows {
		fmt.Printf("%-16s %-24s %6d %7d\n", truncate(s.ID, 16), truncate(s.Title, 24), s.Days, s.Assets)
		if s.Description != "" {
			neutral.Printf("  %s\n", truncate(s.Description, 72))
		}
	}
	fmt.Println()
}

// renderDay prints one simulated day with the change against prev.
func renderDay(res sim.DayResult, prev map[string]float64, symbols []string) {
	title := fmt.Sprintf("Day %d", res.Day+1)
	if res.Label != "" {
		title += " - " + res.Label
	}
	accent.Printf("\n== %s ==\n", title)
	for _, sym := range symbols {
		price := res.Prices[sym]
		fmt.Printf("  %-8s %14s  %s\n", sym, formatMoney(game.PriceOf(price)), colorizePercent(percentChange(prev[sym], price)))
	}
	for _, n := range res.News {
		neutral.Printf("  * %s\n", n.Text)
	}
}

func renderResult(res game.Result, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	fmt.Printf("Scenario:  %s\n", res.ScenarioID)
	fmt.Printf("Seed:      %d\n", res.Seed)
	fmt.Printf("Days:      %d\n", res.Days)
	fmt.Printf("Orders:    %d\n", res.Orders)
	fmt.Printf("Net worth: %s (%s)\n", formatMoney(res.NetWorth), colorizeMoney(res.NetWorth.Sub(game.StarterCash)))
	fmt.Printf("Digest:    %s\n", res.Digest)
	fmt.Println()
}

func renderLeaderboard(rows []game.LeaderboardRow, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-18s %-14s %16s\n", "RANK", "PLAYER", "SCENARIO", "NET WORTH")
	for _, row := range rows {
		fmt.Printf("%-6d %-18s %-14s %16s\n",
			row.Rank,
			truncate(row.Username, 18),
			truncate(row.ScenarioID, 14),
			formatMoney(row.NetWorth),
		)
	}
	fmt.Println()
}

func renderHistory(recs []game.Record) {
	accent.Printf("\n== LOCAL HISTORY ==\n")
	if len(recs) == 0 {
		printInfo("No runs played on this machine yet.")
		return
	}
	fmt.Printf("%-17s %-14s %-20s %16s %s\n", "COMPLETED", "SCENARIO", "SEED", "NET WORTH", "STATUS")
	for _, rec := range recs {
		status := warn.Sprint("pending")
		if rec.Verified {
			status = success.Sprint("verified")
		}
		fmt.Printf("%-17s %-14s %-20d %16s %s\n",
			rec.CompletedAt.Local().Format("2006-01-02 15:04"),
			truncate(rec.ScenarioID, 14),
			rec.Seed,
			formatMoney(rec.NetWorth),
			status,
		)
	}
	fmt.Println()
}

func renderRoom(rm room.Room) {
	accent.Printf("\n== ROOM %s ==\n", rm.ID)
	fmt.Printf("Scenario: %s\n", rm.ScenarioID)
	fmt.Printf("Seed:     %d\n", rm.Seed)
	fmt.Printf("Status:   %s\n", rm.Status)
	fmt.Printf("%-18s %-6s %s\n", "MEMBER", "DAY", "DIGEST")
	for _, m := range rm.Members {
		fmt.Printf("%-18s %-6d %s\n", truncate(m.Username, 18), m.Day, truncate(m.Digest, 16))
	}
	fmt.Println()
}

func renderRoomMessage(msg room.Message) {
	at := msg.At.Local().Format("15:04:05")
	switch msg.Type {
	case room.MessageWelcome:
		printInfo(fmt.Sprintf("[%s] connected to room %s", at, msg.RoomID))
	case room.MessageMemberJoined:
		printSuccess(fmt.Sprintf("[%s] %s joined", at, msg.Username))
	case room.MessageProgress:
		who := msg.Username
		if who == "" {
			who = msg.UserID
		}
		fmt.Printf("[%s] %s finished day %d (%s)\n", at, who, msg.Day+1, truncate(msg.Digest, 16))
	case room.MessageClosed:
		printWarn(fmt.Sprintf("[%s] room closed", at))
	default:
		fmt.Printf("[%s] %s\n", at, msg.Type)
	}
}

func decodeInto[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func percentChange(prev, next float64) float64 {
	if prev == 0 {
		return 0
	}
	return (next - prev) / prev * 100
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	fixed := v.StringFixed(game.MoneyPlaces)
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return sign + fixed
	}
	return fmt.Sprintf("%s%s.%s", sign, comma(n), frac)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
