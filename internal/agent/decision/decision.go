package decision

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"futures_agent/internal/domain"
	"futures_agent/internal/trader"
)

const defaultMaxIterations = 40

// Trader is the slice of the position manager the agent may drive.
type Trader interface {
	OpenLong(ctx context.Context, req trader.OpenRequest) (domain.TradeResult, error)
	OpenShort(ctx context.Context, req trader.OpenRequest) (domain.TradeResult, error)
	ClosePosition(ctx context.Context, currency string) (domain.CloseResult, error)
}

// OperationStore persists each trade operation the agent issues.
type OperationStore interface {
	SaveOperation(ctx context.Context, op domain.Operation) error
	FinalizeOperation(ctx context.Context, op domain.Operation) error
}

// Context is everything the agent sees for one cycle.
type Context struct {
	ExecutionID        string
	Currencies         []string
	Balance            domain.BalanceInfo
	MarketData         map[string]domain.AssetSnapshot
	Positions          []domain.Position
	DailyPnL           domain.DailyPerformance
	Now                time.Time
	PreviousStrategy   string
	PreviousStrategyAt time.Time
}

// Outcome is the agent's final answer for a cycle.
type Outcome struct {
	Narrative    string
	SystemPrompt string
	ToolCalls    int
	Iterations   int
}

// Agent drives the tool-calling decision loop against an OpenAI-compatible
// model via langchaingo.
type Agent struct {
	model         llms.Model
	trader        Trader
	store         OperationStore
	promptTmpl    string
	modelName     string
	maxIterations int
}

// Options configures the agent.
type Options struct {
	APIKey        string
	Model         string
	BaseURL       string
	PromptFile    string
	MaxIterations int
}

// New builds the agent and its LLM client.
func New(opts Options, tr Trader, store OperationStore) (*Agent, error) {
	llmOpts := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(opts.BaseURL))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("初始化大模型客户端失败: %w", err)
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	tmpl := loadPromptTemplate(opts.PromptFile)
	log.Printf("[决策] 大模型已就绪 模型=%s 最大迭代=%d 提示词模板=%d字符",
		opts.Model, maxIter, len(tmpl))

	return &Agent{
		model:         llm,
		trader:        tr,
		store:         store,
		promptTmpl:    tmpl,
		modelName:     opts.Model,
		maxIterations: maxIter,
	}, nil
}

// NewWithModel wires a prebuilt model, used by tests.
func NewWithModel(model llms.Model, tr Trader, store OperationStore, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Agent{
		model:         model,
		trader:        tr,
		store:         store,
		promptTmpl:    defaultPromptTemplate,
		maxIterations: maxIterations,
	}
}

// Decide runs the tool-calling loop until the model answers without tool
// calls or the iteration budget runs out. A model-call failure is an
// AgentError; tool failures go back to the model as structured payloads.
func (a *Agent) Decide(ctx context.Context, dc Context) (Outcome, error) {
	systemPrompt, err := a.renderPrompt(dc)
	if err != nil {
		return Outcome{}, &domain.AgentError{Err: fmt.Errorf("render prompt: %w", err)}
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: buildUserMessage(dc)}},
		},
	}

	outcome := Outcome{SystemPrompt: systemPrompt}

	for iter := 1; iter <= a.maxIterations; iter++ {
		outcome.Iterations = iter
		log.Printf("[决策] 🤖 调用大模型 第%d/%d轮 ...", iter, a.maxIterations)
		t0 := time.Now()

		resp, err := a.model.GenerateContent(ctx, messages, llms.WithTools(toolDefinitions()))
		if err != nil {
			log.Printf("[决策] ✘ 大模型调用失败 (耗时%s): %v", time.Since(t0), err)
			return outcome, &domain.AgentError{Err: err}
		}
		if len(resp.Choices) == 0 {
			return outcome, &domain.AgentError{Err: fmt.Errorf("empty response from model")}
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			// 最终叙述走 STR 解析路径
			parsed, perr := ParseResponse(KindStr, choice.Content)
			if perr != nil {
				return outcome, &domain.AgentError{Err: perr}
			}
			outcome.Narrative = parsed.(string)
			log.Printf("[决策] ✔ 决策完成 (第%d轮，耗时%s)，响应长度=%d字符",
				iter, time.Since(t0), len(outcome.Narrative))
			return outcome, nil
		}

		log.Printf("[决策] 第%d轮返回 %d 个工具调用 (耗时%s)", iter, len(choice.ToolCalls), time.Since(t0))

		// 回显 assistant 的工具调用，随后逐个附上执行结果
		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, llms.ToolCall{
				ID:           tc.ID,
				Type:         tc.Type,
				FunctionCall: tc.FunctionCall,
			})
		}
		messages = append(messages, assistant)

		for _, tc := range choice.ToolCalls {
			outcome.ToolCalls++
			result := a.dispatchTool(ctx, dc.ExecutionID, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			})
		}
	}

	return outcome, &domain.AgentError{
		Err: fmt.Errorf("tool loop exceeded %d iterations without a final answer", a.maxIterations),
	}
}
