package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/metrics"
	"github.com/VitalyOstanin/flowcraft-sub000/internal/telemetry"
	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/quick"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// ▶️ run / resume 命令
// =============================================================================

// runRun 执行单个工作流：加载定义、构建引擎、交互式处理挂起
func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowFile := fs.String("workflow", "", "Workflow definition file (required)")
	task := fs.String("task", "", "Task description (required)")
	scriptPath := fs.String("script", "", "Scripted model responses file")
	observe := fs.Bool("observe", false, "Expose health/metrics/event feed during the run")
	asJSON := fs.Bool("json", false, "Print the outcome as JSON")
	fs.Parse(args)

	if *workflowFile == "" || *task == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowcraft run --workflow <file> --task <text> [--script <file>] [--observe]")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	def, err := config.LoadWorkflowFile(*workflowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}

	rt, err := newRuntime(cfg, logger, *scriptPath, *observe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up run: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	ctx := context.Background()
	outcome, err := rt.engine.Run(ctx, quick.WorkflowFromDef(def, cfg.Model), *task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	outcome = interactLoop(ctx, rt.engine, outcome)
	printOutcome(outcome, *asJSON)
}

// runResume 用令牌续跑一个挂起的运行。
// memory 挂起存储只在原进程内有效，跨进程续跑需要 suspend.store=redis。
func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	token := fs.String("token", "", "Resume token (required)")
	answer := fs.String("answer", "", "Answer to the pending prompt")
	scriptPath := fs.String("script", "", "Scripted model responses file")
	asJSON := fs.Bool("json", false, "Print the outcome as JSON")
	fs.Parse(args)

	if *token == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowcraft resume --token <token> [--answer <text>]")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	rt, err := newRuntime(cfg, logger, *scriptPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up resume: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	first := *answer
	if first == "" {
		first = promptAnswer("")
	}

	ctx := context.Background()
	outcome, err := rt.engine.Resume(ctx, *token, first)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		if cfg.Suspend.Store == "memory" {
			fmt.Fprintln(os.Stderr, "Note: the memory suspend store only holds runs of the process that suspended them; set suspend.store=redis for cross-process resume.")
		}
		os.Exit(1)
	}

	outcome = interactLoop(ctx, rt.engine, outcome)
	printOutcome(outcome, *asJSON)
}

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// runtime 捆绑一次 CLI 执行所需的引擎与其存储句柄
type runtime struct {
	engine *workflow.Engine
	stores *runtimeStores
	server *Server
	logger *zap.Logger
}

// newRuntime 从配置装配引擎。observe 为真时同时启动观测服务器，
// 引擎事件会经集线器广播到 /ws。
func newRuntime(cfg *config.Config, logger *zap.Logger, scriptPath string, observe bool) (*runtime, error) {
	provider, err := buildProvider(cfg, scriptPath)
	if err != nil {
		return nil, err
	}

	stores, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{stores: stores, logger: logger}

	emitter := workflow.Emitter(consolePrinter())
	if observe {
		otelProviders, otelErr := telemetry.Init(cfg.Telemetry, logger)
		if otelErr != nil {
			logger.Warn("failed to initialize telemetry", zap.Error(otelErr))
		}
		srv := NewServer(cfg, logger, otelProviders, stores)
		if startErr := srv.Start(); startErr != nil {
			stores.Close(context.Background(), logger)
			return nil, startErr
		}
		rt.server = srv
		emitter = workflow.CombineEmitters(emitter, srv.Hub())
		fmt.Printf("observability server listening on :%d\n", cfg.Server.HTTPPort)
	}

	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithEmitter(emitter),
		workflow.WithHistory(stores.history),
		workflow.WithPendingStore(stores.pending),
		workflow.WithTokenCodec(workflow.NewTokenCodec(cfg.Suspend.TokenSecret, cfg.Suspend.TokenTTL)),
		workflow.WithMaxRunIterations(cfg.Engine.MaxRunIterations),
		workflow.WithMaxStageIterations(cfg.Engine.MaxStageIterations),
		workflow.WithMaxToolRounds(cfg.Engine.MaxToolRounds),
		workflow.WithToolTimeout(cfg.Engine.ToolCallTimeout),
		workflow.WithModelSelector(workflow.ModelSelector{Default: cfg.Model.Default}),
	}
	if observe {
		opts = append(opts, workflow.WithMetrics(metrics.NewCollector("flowcraft", logger)))
	}
	if cfg.Engine.PromptTokenBudget > 0 {
		opts = append(opts,
			workflow.WithPromptTokenBudget(cfg.Engine.PromptTokenBudget),
			workflow.WithTokenCounter(llm.NewTiktokenCounter(cfg.Model.Default)),
		)
	}

	rt.engine = workflow.NewEngine(provider, opts...)
	if rt.server != nil {
		rt.server.OnWorkflowReload(rt.engine.InvalidateWorkflow)
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.server != nil {
		rt.server.Shutdown()
	}
	rt.stores.Close(context.Background(), rt.logger)
}

// buildProvider 装配模型 Provider。CLI 自身只内置脚本回放 Provider；
// 真实模型接入以库的方式嵌入（实现 llm.Provider）。
func buildProvider(cfg *config.Config, scriptPath string) (llm.Provider, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("no model provider configured: pass --script <file> (the CLI runs workflows against scripted responses; embed the engine as a library to use a live model)")
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	var responses []string
	if err := yaml.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("failed to parse script file %s: %w", scriptPath, err)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("script file %s contains no responses", scriptPath)
	}

	var provider llm.Provider = llm.NewScriptedProvider("scripted", responses...)
	if cfg.Model.RateLimitRPS > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.Model.RateLimitRPS, cfg.Model.RateLimitBurst)
	}
	return provider, nil
}

// =============================================================================
// 💬 交互与输出
// =============================================================================

// interactLoop 处理挂起循环：打印提示、读取回答、续跑。
// quit/exit 与连续两次空输入的取消语义由引擎裁决。
func interactLoop(ctx context.Context, engine *workflow.Engine, outcome *workflow.Outcome) *workflow.Outcome {
	for outcome.Suspended() {
		answer := promptAnswer(outcome.Suspension.Prompt)

		next, err := engine.Resume(ctx, outcome.Suspension.Token, answer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
			os.Exit(1)
		}
		outcome = next
	}
	return outcome
}

// promptAnswer 打印提示并读取一行输入。EOF 视同 quit。
func promptAnswer(prompt string) string {
	if prompt != "" {
		fmt.Printf("\n%s\n", prompt)
	}
	fmt.Print("> ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return "quit"
	}
	return strings.TrimRight(line, "\r\n")
}

// consolePrinter 把关键引擎事件打到标准输出，作为 CLI 的进度显示
func consolePrinter() workflow.EmitterFunc {
	return func(e workflow.Event) {
		switch e.Kind {
		case workflow.EventRunStarted:
			fmt.Printf("run %s started (workflow %s)\n", e.RunID, e.Workflow)
		case workflow.EventStageStarted:
			fmt.Printf("stage %s: started\n", e.Stage)
		case workflow.EventStageCompleted:
			fmt.Printf("stage %s: completed\n", e.Stage)
		case workflow.EventStageFailed:
			fmt.Printf("stage %s: failed (%s)\n", e.Stage, e.Error)
		case workflow.EventToolCalled:
			fmt.Printf("  tool call: %s\n", e.Message)
		case workflow.EventHumanRequested:
			fmt.Println("run paused for input")
		case workflow.EventRunCancelled:
			fmt.Println("run cancelled")
		}
	}
}

// printOutcome 输出最终结果并设置退出码：成功 0、取消 2、失败 1
func printOutcome(outcome *workflow.Outcome, asJSON bool) {
	res := outcome.Result
	if res == nil {
		// interactLoop 只在拿到最终结果后返回
		fmt.Fprintln(os.Stderr, "run ended without a result")
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		fmt.Printf("\nrun %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
		fmt.Printf("  workflow:  %s\n", res.Workflow)
		fmt.Printf("  success:   %t\n", res.Success)
		if len(res.CompletedStages) > 0 {
			fmt.Printf("  completed: %s\n", strings.Join(res.CompletedStages, ", "))
		}
		if len(res.FailedStages) > 0 {
			fmt.Printf("  failed:    %s\n", strings.Join(res.FailedStages, ", "))
		}
		for _, e := range res.Errors {
			fmt.Printf("  error:     %s\n", e)
		}
	}

	switch {
	case res.Cancelled:
		os.Exit(2)
	case !res.Success:
		os.Exit(1)
	}
}
