package mcp

import (
	"fmt"
	"strings"

	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/pkg/types"
)

// formatNumber adds comma separators to integers.
func formatNumber(n uint64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

// orDash returns "-" for empty values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatStatus(st types.Status) string {
	lines := []string{
		section("DEX Session"),
		kv("Connected", st.Connected),
		kv("Address", orDash(st.Address)),
		kv("Chain", fmt.Sprintf("%d (target %d)", st.ChainID, st.TargetChainID)),
		kv("Router", st.Router),
		kv("Factory", orDash(st.Factory)),
		kv("WETH", orDash(st.WETH)),
		kv("Busy", st.Busy),
		kv("Log Lines", st.LogLines),
	}
	if st.Busy {
		lines = append(lines, kv("Current Action", st.CurrentAction))
	}
	if l := st.ConfirmLatency; l != nil && l.Count > 0 {
		lines = append(lines,
			"",
			section("Confirmation Latency"),
			kv("Confirmed", formatNumber(uint64(l.Count))),
			kv("Avg", formatMs(l.AvgMs)),
			kv("P50", formatMs(l.P50Ms)),
			kv("P95", formatMs(l.P95Ms)),
			kv("Min / Max", formatMs(l.MinMs)+" / "+formatMs(l.MaxMs)),
		)
	}
	return strings.Join(lines, "\n")
}

func formatAction(title string, res types.ActionResult) string {
	lines := []string{
		section(title),
		kv("Action ID", res.ActionID),
		kv("TX Hash", res.TxHash),
	}
	if res.ApproveTxHash != "" {
		lines = append(lines, kv("Approve TX", res.ApproveTxHash))
	}
	if len(res.Path) > 0 {
		lines = append(lines, kv("Path", strings.Join(res.Path, " -> ")))
	}
	if res.AmountIn != "" {
		lines = append(lines, kv("Amount In", res.AmountIn))
	}
	if res.QuotedOut != "" {
		lines = append(lines, kv("Quoted Out", res.QuotedOut))
	}
	if res.AmountOutMin != "" {
		lines = append(lines, kv("Amount Out Min", res.AmountOutMin))
	}
	lines = append(lines,
		kv("Block", formatNumber(res.BlockNumber)),
		kv("Gas Used", formatNumber(res.GasUsed)),
		kv("Latency", fmt.Sprintf("%dms", res.LatencyMs)),
	)
	return strings.Join(lines, "\n")
}

func formatBalances(rows []types.TokenBalance) string {
	if len(rows) == 0 {
		return "No tokens given."
	}
	var sb strings.Builder
	sb.WriteString(section("Token Balances") + "\n\n")
	sb.WriteString("| Token | Symbol | Balance |\n")
	sb.WriteString("|-------|--------|---------|\n")
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(&sb, "| %s | - | error: %s |\n", r.Token, r.Error)
			continue
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", r.Token, r.Symbol, r.Formatted)
	}
	return sb.String()
}

func formatPools(rows []types.PoolInfo) string {
	if len(rows) == 0 {
		return "No pairs given."
	}
	var sb strings.Builder
	sb.WriteString(section("Pools") + "\n")
	for _, p := range rows {
		sb.WriteString("\n")
		if p.Error != "" {
			sb.WriteString(joinLines(kv("Pair", p.Pair), kv("Error", p.Error)) + "\n")
			continue
		}
		sb.WriteString(joinLines(
			kv("Pair", p.Pair),
			kv(p.Symbol0+" reserve", p.Formatted0),
			kv(p.Symbol1+" reserve", p.Formatted1),
			kv(p.Symbol0+" in ETH", p.Price0InETH),
			kv(p.Symbol1+" in ETH", p.Price1InETH),
		) + "\n")
	}
	return sb.String()
}

func formatPosition(p types.Position) string {
	if p.PairNotFound {
		return joinLines(
			section("Position"),
			fmt.Sprintf("No pair exists for %s / %s.", p.TokenA, p.TokenB),
		)
	}
	return joinLines(
		section("Position"),
		kv("Pair", p.Pair),
		kv("Balance A", p.FormattedA),
		kv("Balance B", p.FormattedB),
		kv("LP Balance", p.FormattedLP),
		kv("Reserve A", p.FormattedRA),
		kv("Reserve B", p.FormattedRB),
		kv("Share of Pool", p.ShareOfPool+"%"),
	)
}

func formatQuote(q types.Quote) string {
	return joinLines(
		section("Quote"),
		kv("Path", strings.Join(q.Path, " -> ")),
		kv("Amount In", q.AmountIn),
		kv("Router Out", orDash(q.RouterOut)),
		kv("Local Out", orDash(q.LocalOut)),
		optional("Router Error", q.RouterError),
		optional("Local Error", q.LocalError),
	)
}

func optional(key, v string) string {
	if v == "" {
		return ""
	}
	return kv(key, v)
}

func formatLog(lines []types.LogLine) string {
	if len(lines) == 0 {
		return "Debug log is empty."
	}
	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "[%s] %s\n", l.Time.Format("15:04:05"), l.Text)
	}
	return sb.String()
}

func formatHistory(page storage.PaginatedTxLogs) string {
	if len(page.Transactions) == 0 {
		return "No transactions recorded yet."
	}
	var sb strings.Builder
	sb.WriteString(section(fmt.Sprintf("Transactions (%d total)", page.Total)) + "\n\n")
	sb.WriteString("| Action | Status | TX Hash | Block | Gas | Latency |\n")
	sb.WriteString("|--------|--------|---------|-------|-----|---------|\n")
	for _, e := range page.Transactions {
		latency := "-"
		if e.ConfirmLatencyMs > 0 {
			latency = fmt.Sprintf("%dms", e.ConfirmLatencyMs)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
			e.Action, e.Status, orDash(e.TxHash), formatNumber(e.BlockNumber), formatNumber(e.GasUsed), latency)
	}
	if end := page.Offset + len(page.Transactions); end < page.Total {
		fmt.Fprintf(&sb, "\nShowing %d-%d. Use offset=%d for more.\n", page.Offset+1, end, end)
	}
	return sb.String()
}
