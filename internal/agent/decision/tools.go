package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"futures_agent/internal/domain"
	"futures_agent/internal/trader"
)

const (
	toolOpenLong  = "open_long_position"
	toolOpenShort = "open_short_position"
	toolClose     = "close_position"
)

func toolDefinitions() []llms.Tool {
	openParams := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"currency": map[string]any{
				"type":        "string",
				"description": "Base currency symbol only, e.g. 'BTC' or 'ETH' (the USDT quote is implied).",
			},
			"quantity": map[string]any{
				"type":        "number",
				"description": "Position size in base currency units. MIN ORDER SIZE: quantity * price * leverage must be at least 100 USDT.",
			},
			"leverage": map[string]any{
				"type":        "integer",
				"description": "Leverage multiplier between 1 and 125. Omit to keep the symbol's current leverage.",
			},
			"stop_loss_price": map[string]any{
				"type":        "number",
				"description": "MANDATORY protective stop price. The order is rejected before reaching the exchange if missing.",
			},
			"take_profit_price": map[string]any{
				"type":        "number",
				"description": "Optional take-profit trigger price.",
			},
		},
		"required": []string{"currency", "quantity", "stop_loss_price"},
	}

	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        toolOpenLong,
				Description: "Open a leveraged LONG position on Binance USDT-M futures with a mandatory stop-loss and optional take-profit.",
				Parameters:  openParams,
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        toolOpenShort,
				Description: "Open a leveraged SHORT position on Binance USDT-M futures with a mandatory stop-loss and optional take-profit.",
				Parameters:  openParams,
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        toolClose,
				Description: "Close the entire open position for a currency with a reduce-only market order. Returns NO_POSITION when flat.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"currency": map[string]any{
							"type":        "string",
							"description": "Base currency symbol only, e.g. 'BTC'.",
						},
					},
					"required": []string{"currency"},
				},
			},
		},
	}
}

type openArgs struct {
	Currency        string  `json:"currency"`
	Quantity        float64 `json:"quantity"`
	Leverage        int     `json:"leverage"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
}

type closeArgs struct {
	Currency string `json:"currency"`
}

// dispatchTool executes one tool call and returns the payload sent back to
// the model. Trade calls run detached from the cycle deadline so an
// entry→stop→take-profit sequence never stops half way through.
func (a *Agent) dispatchTool(ctx context.Context, executionID string, tc llms.ToolCall) string {
	tradeCtx := context.WithoutCancel(ctx)

	switch tc.FunctionCall.Name {
	case toolOpenLong:
		return a.runOpen(tradeCtx, executionID, domain.OperationOpenLong, tc.FunctionCall.Arguments, a.trader.OpenLong)
	case toolOpenShort:
		return a.runOpen(tradeCtx, executionID, domain.OperationOpenShort, tc.FunctionCall.Arguments, a.trader.OpenShort)
	case toolClose:
		return a.runClose(tradeCtx, executionID, tc.FunctionCall.Arguments)
	default:
		log.Printf("[决策] ⚠ 模型请求了未知工具: %s", tc.FunctionCall.Name)
		return errPayload(fmt.Errorf("unknown tool %q", tc.FunctionCall.Name))
	}
}

func (a *Agent) runOpen(
	ctx context.Context,
	executionID string,
	opType domain.OperationType,
	rawArgs string,
	open func(context.Context, trader.OpenRequest) (domain.TradeResult, error),
) string {
	var args openArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return errPayload(fmt.Errorf("invalid arguments: %w", err))
	}

	op := domain.Operation{
		ID:              uuid.NewString(),
		ExecutionID:     executionID,
		Type:            opType,
		Status:          domain.OperationPending,
		Currency:        args.Currency,
		Quantity:        args.Quantity,
		Leverage:        args.Leverage,
		StopLossPrice:   args.StopLossPrice,
		TakeProfitPrice: args.TakeProfitPrice,
		CreatedAt:       time.Now().UTC(),
	}
	a.saveOperation(ctx, op)

	result, err := open(ctx, trader.OpenRequest{
		Currency:        args.Currency,
		Quantity:        args.Quantity,
		Leverage:        args.Leverage,
		StopLossPrice:   args.StopLossPrice,
		TakeProfitPrice: args.TakeProfitPrice,
	})
	if err != nil {
		op.Status = domain.OperationError
		op.ErrorMessage = err.Error()
		a.finalizeOperation(ctx, op)
		return errPayload(err)
	}

	op.Status = domain.OperationSuccess
	op.MainOrderID = result.MainOrderID
	op.StopLossOrderID = result.StopLossOrderID
	op.TakeProfitOrderID = result.TakeProfitOrderID
	op.ResultData = mustJSON(result)
	a.finalizeOperation(ctx, op)
	return op.ResultData
}

func (a *Agent) runClose(ctx context.Context, executionID, rawArgs string) string {
	var args closeArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return errPayload(fmt.Errorf("invalid arguments: %w", err))
	}

	op := domain.Operation{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Type:        domain.OperationClosePosition,
		Status:      domain.OperationPending,
		Currency:    args.Currency,
		CreatedAt:   time.Now().UTC(),
	}
	a.saveOperation(ctx, op)

	result, err := a.trader.ClosePosition(ctx, args.Currency)
	if err != nil {
		op.Status = domain.OperationError
		op.ErrorMessage = err.Error()
		a.finalizeOperation(ctx, op)
		return errPayload(err)
	}

	op.Status = domain.OperationSuccess
	op.MainOrderID = result.OrderID
	op.ResultData = mustJSON(result)
	a.finalizeOperation(ctx, op)
	return op.ResultData
}

func (a *Agent) saveOperation(ctx context.Context, op domain.Operation) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveOperation(ctx, op); err != nil {
		log.Printf("[决策] ⚠ 保存操作记录失败 %s %s: %v", op.Type, op.Currency, err)
	}
}

func (a *Agent) finalizeOperation(ctx context.Context, op domain.Operation) {
	if a.store == nil {
		return
	}
	if err := a.store.FinalizeOperation(ctx, op); err != nil {
		log.Printf("[决策] ⚠ 更新操作记录失败 %s %s: %v", op.Type, op.Currency, err)
	}
}

func errPayload(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
