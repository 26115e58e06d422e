// =============================================================================
// RenderFlow 命令行入口
// =============================================================================
// 图生图渲染客户端：源图校正、提交 Provider、下载并落盘结果
//
// 使用方法:
//
//	renderflow generate --image view.png                  # 使用默认 Provider 渲染
//	renderflow generate --provider edit --image a.png --ref b.png
//	renderflow check --provider queued                    # 连通性检查
//	renderflow history --limit 10                         # 最近的渲染记录
//	renderflow history --id <request-id>                  # 单条记录详情
//	renderflow version                                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/internal/history"
	"github.com/BaSui01/renderflow/render/image"
	"github.com/BaSui01/renderflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "generate":
		err = runGenerate(ctx, args[1:], stdout)
	case "check":
		err = runCheck(ctx, args[1:], stdout)
	case "history":
		err = runHistory(ctx, args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %s\n", describeError(err))
		return 1
	}
	return 0
}

// =============================================================================
// 🖼️ generate 命令
// =============================================================================

type generateFlags struct {
	configPath string
	provider   string
	verbose    bool
	req        types.GenerationRequest
	format     string
}

// stringList 收集可重复的 --ref 参数
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// paramFlag 只在显式设置时写入请求参数
type paramFlag struct {
	req  *types.GenerationRequest
	name string
}

func (p paramFlag) String() string {
	if p.req == nil || p.req.Params == nil {
		return ""
	}
	if v, ok := p.req.Params[p.name]; ok {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return ""
}

func (p paramFlag) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	if p.req.Params == nil {
		p.req.Params = map[string]float64{}
	}
	p.req.Params[p.name] = v
	return nil
}

func parseGenerateFlags(args []string, out io.Writer) (*generateFlags, error) {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(out)

	g := &generateFlags{}
	var refs stringList
	fs.StringVar(&g.configPath, "config", "", "Path to config file")
	fs.StringVar(&g.provider, "provider", "", "Provider: structure, queued, edit (default from config)")
	fs.BoolVar(&g.verbose, "verbose", false, "Debug logging plus API log file")
	fs.StringVar(&g.req.SourceImagePath, "image", "", "Source image path")
	fs.Var(&refs, "ref", "Reference image path (edit provider, repeatable)")
	fs.StringVar(&g.req.Prompt, "prompt", "", "Prompt (default from config)")
	fs.StringVar(&g.req.NegativePrompt, "negative", "", "Negative prompt")
	fs.StringVar(&g.format, "format", "", "Output format: jpeg, png, webp")
	fs.StringVar(&g.req.StylePreset, "style", "", "Style preset")
	fs.StringVar(&g.req.Model, "model", "", "Model override")

	for flagName, param := range map[string]string{
		"control-strength": types.ParamControlStrength,
		"strength":         types.ParamStrength,
		"steps":            types.ParamSteps,
		"guidance":         types.ParamGuidanceScale,
		"lora-strength":    types.ParamControlLoraStrength,
	} {
		fs.Var(paramFlag{req: &g.req, name: param}, flagName, "Override "+param)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 && g.req.SourceImagePath == "" {
		g.req.SourceImagePath = fs.Arg(0)
	}
	g.req.ReferenceImagePaths = refs

	if g.format != "" {
		f, err := types.ParseOutputFormat(g.format)
		if err != nil {
			return nil, err
		}
		g.req.OutputFormat = f
	}
	return g, nil
}

func runGenerate(ctx context.Context, args []string, stdout io.Writer) error {
	g, err := parseGenerateFlags(args, stdout)
	if err != nil {
		return err
	}

	a, err := bootstrap(bootstrapOptions{
		configPath:  g.configPath,
		verbose:     g.verbose,
		withHistory: true,
		withRuntime: true,
	})
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.provider(g.provider)
	if err != nil {
		return err
	}

	out, err := a.session(p).Render(ctx, &g.req)
	if err != nil {
		return err
	}

	for _, note := range out.Notes {
		fmt.Fprintf(stdout, "note: %s\n", note)
	}
	a.logger.Debug("render outcome",
		zap.String("request_id", out.RequestID),
		zap.Int("attempts", out.Attempts),
		zap.Duration("duration", out.Duration))
	fmt.Fprintln(stdout, out.Result.Path)
	return nil
}

// =============================================================================
// 🏥 check 命令
// =============================================================================

func runCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("provider", "", "Provider to check (default: all configured)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := bootstrap(bootstrapOptions{configPath: *configPath})
	if err != nil {
		return err
	}
	defer a.close()

	kinds := image.Kinds()
	if *name != "" {
		k, err := image.ParseKind(*name)
		if err != nil {
			return err
		}
		kinds = []image.Kind{k}
	}

	var failed int
	for _, k := range kinds {
		status := checkProvider(ctx, a, k)
		if status != "OK" {
			failed++
		}
		fmt.Fprintf(stdout, "%-10s %s\n", k, status)
	}
	if failed > 0 {
		return fmt.Errorf("%d provider(s) failed the connectivity check", failed)
	}
	return nil
}

func checkProvider(ctx context.Context, a *app, k image.Kind) string {
	p, err := a.provider(string(k))
	if err != nil {
		return describeError(err)
	}
	checker, ok := p.(image.Checker)
	if !ok {
		return "not supported"
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := checker.CheckConnectivity(ctx); err != nil {
		return describeError(err)
	}
	return "OK"
}

// =============================================================================
// 📜 history 命令
// =============================================================================

func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 20, "Number of entries")
	id := fs.String("id", "", "Show a single render by request ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := bootstrap(bootstrapOptions{configPath: *configPath, withHistory: true})
	if err != nil {
		return err
	}
	defer a.close()

	if a.history == nil {
		return errors.New("render history is disabled (history.enabled: false)")
	}

	if *id != "" {
		e, err := a.history.Get(ctx, *id)
		if err != nil {
			return err
		}
		return printHistoryEntry(stdout, e)
	}

	entries, err := a.history.List(ctx, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROVIDER\tSTATUS\tDURATION\tRESULT")
	for _, e := range entries {
		status, result := "ok", e.ResultPath
		if !e.Succeeded() {
			status, result = e.ErrorCode, e.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Provider, status,
			(time.Duration(e.DurationMS) * time.Millisecond).Round(100*time.Millisecond),
			result)
	}
	return w.Flush()
}

// printHistoryEntry 以键值形式输出单条记录，空字段省略
func printHistoryEntry(stdout io.Writer, e *history.Entry) error {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(w, "%s:\t%s\n", k, v)
		}
	}
	row("ID", e.ID)
	row("Time", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	row("Provider", e.Provider)
	row("Prompt", e.Prompt)
	row("Source", e.SourcePath)
	row("Conditioned", e.ConditionedPath)
	row("Result", e.ResultPath)
	row("Seed", e.Seed)
	row("Finish", e.FinishReason)
	row("Job", e.JobID)
	row("Error", strings.TrimSpace(e.ErrorCode+" "+e.ErrorMessage))
	row("Attempts", strconv.Itoa(e.Attempts))
	row("Duration", (time.Duration(e.DurationMS) * time.Millisecond).String())
	return w.Flush()
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

// describeError 输出带错误码、Provider 与阶段的完整错误文本
func describeError(err error) string {
	if te, ok := types.AsError(err); ok {
		msg := te.Error()
		if len(te.Strategies) > 0 {
			msg += fmt.Sprintf(" (tried: %s)", strings.Join(te.Strategies, ", "))
		}
		return msg
	}
	return err.Error()
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "RenderFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `RenderFlow - image-to-image rendering client

Usage:
  renderflow <command> [options]

Commands:
  generate  Render an image with a provider
  check     Check provider connectivity
  history   List recent renders
  version   Show version information
  help      Show this help message

Options for 'generate':
  --config <path>          Path to configuration file (YAML)
  --provider <name>        structure, queued or edit
  --image <path>           Source image
  --ref <path>             Reference image (repeatable, edit provider)
  --prompt <text>          Prompt
  --negative <text>        Negative prompt
  --format <fmt>           jpeg, png or webp
  --style <preset>         Style preset
  --model <name>           Model override
  --control-strength <f>   --strength <f>  --steps <n>
  --guidance <f>           --lora-strength <f>
  --verbose                Debug logging plus renderflow_api.log

Examples:
  renderflow generate --image view.png
  renderflow generate --provider queued --image view.png --strength 0.8
  renderflow generate --provider edit --image view.png --ref wood.jpg --ref stone.jpg
  renderflow check --provider structure
  renderflow history --limit 10
  renderflow history --id <request-id>`)
}
