package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/pkg/types"
)

// RegisterTools registers all dexkit tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool("dex_status",
		gomcp.WithDescription("Get the DEX session: connected account, chain, router/factory/WETH addresses, busy flag and confirmation latency."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool("dex_health",
		gomcp.WithDescription("Quick readiness check: is the dexkit API up and can it reach its RPC node?"),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool("dex_connect",
		gomcp.WithDescription("Connect the configured signer, switching to the target chain if needed. Must run before balances, positions and trades."),
	), connectHandler(client))

	s.AddTool(gomcp.NewTool("dex_quote",
		gomcp.WithDescription("Quote a swap. Compares the router's getAmountsOut with a local constant-product calculation over the same path."),
		gomcp.WithString("token_in", gomcp.Required(), gomcp.Description("Input token address")),
		gomcp.WithString("token_out", gomcp.Required(), gomcp.Description("Output token address")),
		gomcp.WithString("amount", gomcp.Required(), gomcp.Description("Input amount in whole tokens, e.g. 1.5")),
	), quoteHandler(client))

	s.AddTool(gomcp.NewTool("dex_token_balances",
		gomcp.WithDescription("Read symbol and balance of up to 5 tokens for the connected account."),
		gomcp.WithString("tokens", gomcp.Required(), gomcp.Description("Comma-separated token addresses (max 5)")),
	), balancesHandler(client))

	s.AddTool(gomcp.NewTool("dex_pool_info",
		gomcp.WithDescription("Read reserves and ETH prices of up to 5 UniswapV2 pairs."),
		gomcp.WithString("pairs", gomcp.Required(), gomcp.Description("Comma-separated pair addresses (max 5)")),
	), poolsHandler(client))

	s.AddTool(gomcp.NewTool("dex_position",
		gomcp.WithDescription("Show the connected account's balances, LP tokens and pool share for a token pair."),
		gomcp.WithString("token_a", gomcp.Required(), gomcp.Description("First token address")),
		gomcp.WithString("token_b", gomcp.Required(), gomcp.Description("Second token address")),
	), positionHandler(client))

	s.AddTool(gomcp.NewTool("dex_approve",
		gomcp.WithDescription("Approve the router to spend a token. This is a MUTATING operation that sends a transaction."),
		gomcp.WithString("token", gomcp.Required(), gomcp.Description("Token address")),
		gomcp.WithString("amount", gomcp.Description("Amount in whole tokens (default: one base unit)")),
	), approveHandler(client))

	s.AddTool(gomcp.NewTool("dex_buy",
		gomcp.WithDescription("Buy a token with ETH (WETH -> token). This is a MUTATING operation that sends a transaction."),
		gomcp.WithString("token", gomcp.Required(), gomcp.Description("Token address")),
		gomcp.WithString("eth_amount", gomcp.Required(), gomcp.Description("ETH to spend, e.g. 0.01")),
	), buyHandler(client))

	s.AddTool(gomcp.NewTool("dex_sell",
		gomcp.WithDescription("Sell a token for ETH. Approves the router first when needed. This is a MUTATING operation."),
		gomcp.WithString("token", gomcp.Required(), gomcp.Description("Token address")),
		gomcp.WithString("amount", gomcp.Required(), gomcp.Description("Amount in whole tokens")),
	), sellHandler(client))

	s.AddTool(gomcp.NewTool("dex_swap",
		gomcp.WithDescription("Swap one token for another, directly or via WETH. Approves the router first when needed. This is a MUTATING operation."),
		gomcp.WithString("token_in", gomcp.Required(), gomcp.Description("Input token address")),
		gomcp.WithString("token_out", gomcp.Required(), gomcp.Description("Output token address")),
		gomcp.WithString("amount", gomcp.Required(), gomcp.Description("Input amount in whole tokens")),
	), swapHandler(client))

	s.AddTool(gomcp.NewTool("dex_debug_log",
		gomcp.WithDescription("Read the session debug log: every step of every action, including failures."),
		gomcp.WithNumber("since", gomcp.Description("Only lines with a sequence number above this")),
		gomcp.WithBoolean("clear", gomcp.Description("Clear the log instead of reading it")),
	), debugLogHandler(client))

	s.AddTool(gomcp.NewTool("dex_tx_history",
		gomcp.WithDescription("List recorded transactions, newest first (paginated)."),
		gomcp.WithNumber("limit", gomcp.Description("Max results (default 20)")),
		gomcp.WithNumber("offset", gomcp.Description("Offset for pagination")),
	), historyHandler(client))

	s.AddTool(gomcp.NewTool("dex_tx_detail",
		gomcp.WithDescription("Get the recorded outcome of one transaction by hash."),
		gomcp.WithString("tx_hash", gomcp.Required(), gomcp.Description("Transaction hash")),
	), txDetailHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var st types.Status
		if err := client.Get(ctx, "/v1/status", &st); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("dexkit unreachable: %v\n\nIs the API running? Try: dexkit serve", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(st)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var ready struct {
			Ready  bool `json:"ready"`
			Checks []struct {
				Name      string `json:"name"`
				Status    string `json:"status"`
				LatencyMs int64  `json:"latency_ms"`
				Error     string `json:"error"`
			} `json:"checks"`
		}
		if err := client.Get(ctx, "/ready", &ready); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("dexkit unhealthy: %v", err)), nil
		}
		lines := []string{section("Health"), kv("Ready", ready.Ready)}
		for _, c := range ready.Checks {
			v := fmt.Sprintf("%s (%dms)", c.Status, c.LatencyMs)
			if c.Error != "" {
				v += " " + c.Error
			}
			lines = append(lines, kv(c.Name, v))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	}
}

func connectHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var res types.ConnectResult
		if err := client.Post(ctx, "/v1/connect", nil, &res); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Connect failed: %v", err)), nil
		}
		switched := ""
		if res.Switched {
			switched = kv("Switched Network", "yes")
		}
		return gomcp.NewToolResultText(joinLines(
			section("Connected"),
			kv("Address", res.Address),
			kv("Chain ID", res.ChainID),
			switched,
			kv("Router", res.Router),
			kv("Factory", orDash(res.Factory)),
			kv("WETH", res.WETH),
		)), nil
	}
}

func quoteHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, errResult := requireStrings(req, "token_in", "token_out", "amount")
		if errResult != nil {
			return errResult, nil
		}
		q := url.Values{}
		q.Set("tokenIn", args[0])
		q.Set("tokenOut", args[1])
		q.Set("amount", args[2])

		var quote types.Quote
		if err := client.Get(ctx, "/v1/quote?"+q.Encode(), &quote); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Quote failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatQuote(quote)), nil
	}
}

func balancesHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		tokens, err := req.RequireString("tokens")
		if err != nil {
			return gomcp.NewToolResultError("tokens is required"), nil
		}
		var out struct {
			Balances []types.TokenBalance `json:"balances"`
		}
		if err := client.Get(ctx, "/v1/balances?tokens="+url.QueryEscape(compactList(tokens)), &out); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Balances failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatBalances(out.Balances)), nil
	}
}

func poolsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		pairs, err := req.RequireString("pairs")
		if err != nil {
			return gomcp.NewToolResultError("pairs is required"), nil
		}
		var out struct {
			Pools []types.PoolInfo `json:"pools"`
		}
		if err := client.Get(ctx, "/v1/pools?pairs="+url.QueryEscape(compactList(pairs)), &out); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Pool info failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatPools(out.Pools)), nil
	}
}

func positionHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, errResult := requireStrings(req, "token_a", "token_b")
		if errResult != nil {
			return errResult, nil
		}
		q := url.Values{}
		q.Set("tokenA", args[0])
		q.Set("tokenB", args[1])

		var pos types.Position
		if err := client.Get(ctx, "/v1/position?"+q.Encode(), &pos); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Position failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatPosition(pos)), nil
	}
}

func approveHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		token, err := req.RequireString("token")
		if err != nil {
			return gomcp.NewToolResultError("token is required"), nil
		}
		payload := types.ApproveRequest{Token: token, Amount: req.GetString("amount", "")}
		return postAction(ctx, client, "/v1/approve", payload, "Approved")
	}
}

func buyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, errResult := requireStrings(req, "token", "eth_amount")
		if errResult != nil {
			return errResult, nil
		}
		return postAction(ctx, client, "/v1/buy", types.BuyRequest{Token: args[0], ETHAmount: args[1]}, "Bought")
	}
}

func sellHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, errResult := requireStrings(req, "token", "amount")
		if errResult != nil {
			return errResult, nil
		}
		return postAction(ctx, client, "/v1/sell", types.SellRequest{Token: args[0], Amount: args[1]}, "Sold")
	}
}

func swapHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, errResult := requireStrings(req, "token_in", "token_out", "amount")
		if errResult != nil {
			return errResult, nil
		}
		payload := types.SwapRequest{TokenIn: args[0], TokenOut: args[1], Amount: args[2]}
		return postAction(ctx, client, "/v1/swap", payload, "Swapped")
	}
}

func debugLogHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if req.GetBool("clear", false) {
			if err := client.Delete(ctx, "/v1/log"); err != nil {
				return gomcp.NewToolResultError(fmt.Sprintf("Clear failed: %v", err)), nil
			}
			return gomcp.NewToolResultText("Debug log cleared."), nil
		}
		var out struct {
			Lines []types.LogLine `json:"lines"`
		}
		path := fmt.Sprintf("/v1/log?since=%d", max(req.GetInt("since", 0), 0))
		if err := client.Get(ctx, path, &out); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Debug log failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatLog(out.Lines)), nil
	}
}

func historyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		offset := req.GetInt("offset", 0)
		var page storage.PaginatedTxLogs
		if err := client.Get(ctx, fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset), &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(page)), nil
	}
}

func txDetailHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		hash, err := req.RequireString("tx_hash")
		if err != nil {
			return gomcp.NewToolResultError("tx_hash is required"), nil
		}
		var e storage.TxLogEntry
		if err := client.Get(ctx, "/v1/history/"+url.PathEscape(hash), &e); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Transaction lookup failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Transaction"),
			kv("Action", e.Action),
			kv("Action ID", e.ActionID),
			kv("Status", e.Status),
			kv("TX Hash", orDash(e.TxHash)),
			kv("From", e.FromAddress),
			kv("Block", formatNumber(e.BlockNumber)),
			kv("Gas Used", formatNumber(e.GasUsed)),
			optional("Error", e.ErrorReason),
		)), nil
	}
}

func postAction(ctx context.Context, client *Client, path string, payload any, title string) (*gomcp.CallToolResult, error) {
	var res types.ActionResult
	if err := client.Post(ctx, path, payload, &res); err != nil {
		return gomcp.NewToolResultError(fmt.Sprintf("%s failed: %v\n\nSee dex_debug_log for the step-by-step trace.", strings.TrimPrefix(path, "/v1/"), err)), nil
	}
	return gomcp.NewToolResultText(formatAction(title, res)), nil
}

// requireStrings returns the named arguments, or a tool error naming the
// first one missing.
func requireStrings(req gomcp.CallToolRequest, names ...string) ([]string, *gomcp.CallToolResult) {
	out := make([]string, len(names))
	for i, n := range names {
		v, err := req.RequireString(n)
		if err != nil || strings.TrimSpace(v) == "" {
			return nil, gomcp.NewToolResultError(n + " is required")
		}
		out[i] = strings.TrimSpace(v)
	}
	return out, nil
}

// compactList strips spaces around comma-separated entries.
func compactList(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}
