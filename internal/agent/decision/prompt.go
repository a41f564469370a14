package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/template"
	"time"

	"futures_agent/internal/trader"
)

// defaultPromptTemplate is the built-in system prompt; a file configured via
// AGENT_PROMPT_FILE overrides it.
const defaultPromptTemplate = `You are an automated USDT-M perpetual futures trading agent on Binance.

## Execution context

- Current time (UTC): {{.Now}}
- Tradable currencies: {{.Currencies}}
- Account balance:
{{.Balance}}
- Open positions:
{{.Positions}}
- Daily performance (since UTC midnight):
{{.DailyPnL}}
{{if .PreviousStrategy}}
## Strategy from previous execution ({{.PreviousStrategyAt}})

{{.PreviousStrategy}}
{{end}}
## Market data

{{.MarketData}}

## Trading rules

1. Every new position MUST include stop_loss_price; orders without it are rejected before reaching the exchange.
2. Leverage must be between 1 and 125.
3. MIN ORDER SIZE: quantity * price * leverage must be at least {{.MinNotional}} USDT.
4. Use the tools to open long, open short or close positions. Pass the base currency only (e.g. "BTC").
5. A tool error comes back as a JSON payload with an "error" field; adjust and retry or move on.

## Output

When you are done trading (or decide not to trade), reply with your market
analysis and reasoning. End the reply with a markdown section titled exactly:

## Strategy for Next Execution

containing the plan the next cycle should start from.
`

func loadPromptTemplate(path string) string {
	if path == "" {
		return defaultPromptTemplate
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[决策] ⚠ 提示词文件 %s 加载失败，使用内置模板: %v", path, err)
		return defaultPromptTemplate
	}
	return string(data)
}

type promptData struct {
	Now                string
	Currencies         string
	Balance            string
	Positions          string
	DailyPnL           string
	MarketData         string
	PreviousStrategy   string
	PreviousStrategyAt string
	MinNotional        float64
}

func (a *Agent) renderPrompt(dc Context) (string, error) {
	tmpl, err := template.New("system").Parse(a.promptTmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	data := promptData{
		Now:              dc.Now.UTC().Format(time.RFC3339),
		Currencies:       prettyJSON(dc.Currencies),
		Balance:          prettyJSON(dc.Balance),
		Positions:        prettyJSON(dc.Positions),
		DailyPnL:         prettyJSON(dc.DailyPnL),
		MarketData:       prettyJSON(dc.MarketData),
		PreviousStrategy: dc.PreviousStrategy,
		MinNotional:      trader.MinNotionalUSDT,
	}
	if dc.PreviousStrategy != "" && !dc.PreviousStrategyAt.IsZero() {
		data.PreviousStrategyAt = dc.PreviousStrategyAt.UTC().Format(time.RFC3339)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

func buildUserMessage(dc Context) string {
	return fmt.Sprintf(
		"Run one trading cycle now (%s). Review the market data and account state above, manage existing positions first, then decide on new entries.",
		dc.Now.UTC().Format(time.RFC3339))
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
