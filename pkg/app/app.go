package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/zurustar/phpstack/pkg/cli"
	"github.com/zurustar/phpstack/pkg/compiler"
	"github.com/zurustar/phpstack/pkg/compiler/grammar"
	"github.com/zurustar/phpstack/pkg/fileutil"
	"github.com/zurustar/phpstack/pkg/logger"
	"github.com/zurustar/phpstack/pkg/opcode"
	"github.com/zurustar/phpstack/pkg/vm"
)

// EnvFile はカレントディレクトリから読み込む設定ファイル
const EnvFile = ".env"

// ErrReported は診断メッセージを出力済みの失敗を表す
var ErrReported = errors.New("failed")

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config *cli.Config
	log    *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	errorColor *color.Color
	warnColor  *color.Color
	noteColor  *color.Color
}

// Option はApplicationの設定を変更する
type Option func(*Application)

// WithStdio 標準入出力を差し替える
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(app *Application) {
		app.stdin = stdin
		app.stdout = stdout
		app.stderr = stderr
	}
}

// New Applicationを作成
func New(opts ...Option) *Application {
	app := &Application{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		errorColor: color.New(color.FgRed, color.Bold),
		warnColor:  color.New(color.FgYellow),
		noteColor:  color.New(color.FgCyan),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. .env と コマンドライン引数の解析
	if err := cli.LoadEnvFile(EnvFile); err != nil {
		return err
	}
	config, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.config = config

	if config.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	// 2. ロガーと色付けの初期化
	if err := logger.InitLoggerWithFormat(config.LogLevel, config.LogFormat, app.stderr); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()
	if config.NoColor {
		for _, c := range []*color.Color{app.errorColor, app.warnColor, app.noteColor} {
			c.DisableColor()
		}
	}

	app.log.Debug("Application started", "command", config.Command, "source", config.Source)

	// 3. コマンドの実行
	switch config.Command {
	case cli.CommandCompile:
		return app.compile()
	case cli.CommandRun:
		return app.run()
	case cli.CommandExec:
		return app.exec()
	case cli.CommandAST:
		return app.dumpAST()
	case cli.CommandTable:
		return app.dumpTable()
	}
	return fmt.Errorf("unknown command: %s", config.Command)
}

// compilerOptions 設定からコンパイラのオプションを組み立てる
func (app *Application) compilerOptions() ([]compiler.Option, error) {
	opts := []compiler.Option{
		compiler.WithComments(!app.config.NoComments),
		compiler.WithLogger(app.log),
	}
	if app.config.TablePath != "" {
		table, err := app.loadTable(app.config.TablePath)
		if err != nil {
			return nil, err
		}
		app.log.Debug("Grammar table loaded", "path", app.config.TablePath, "states", table.StateCount())
		opts = append(opts, compiler.WithTable(table))
	}
	return opts, nil
}

// loadTable 設定された形式で構文表を読み込む
// vartan 形式の表は組み込み文法の規則と組み合わせる
func (app *Application) loadTable(path string) (*grammar.Table, error) {
	if app.config.TableFormat != cli.TableFormatVartan {
		return grammar.LoadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grammar table %s: %w", path, err)
	}
	defer f.Close()

	table, err := compiler.DecodeVartanTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load grammar table %s: %w", path, err)
	}
	return table, nil
}

// compileSource ソースをコンパイルし、失敗時は診断を表示する
func (app *Application) compileSource() (*compiler.Result, error) {
	opts, err := app.compilerOptions()
	if err != nil {
		return nil, err
	}
	res, errs := compiler.CompileFile(app.config.Source, opts...)
	if len(errs) > 0 {
		app.reportErrors(errs)
		return nil, ErrReported
	}
	app.log.Info("Compiled",
		"source", app.config.Source,
		"instructions", len(res.Code),
		"globals", len(res.Globals),
		"functions", len(res.Functions))
	return res, nil
}

func (app *Application) compile() error {
	res, err := app.compileSource()
	if err != nil {
		return err
	}
	text, err := res.Text(!app.config.NoComments)
	if err != nil {
		return err
	}
	return app.writeOutput([]byte(text))
}

func (app *Application) run() error {
	text, err := fileutil.ReadSource(app.config.Source)
	if err != nil {
		return err
	}
	program, err := opcode.Parse(text)
	if err != nil {
		app.reportErrors([]error{fmt.Errorf("%s: %w", app.config.Source, err)})
		return ErrReported
	}
	app.log.Debug("Program loaded", "path", app.config.Source, "instructions", len(program))
	return app.execute(program)
}

func (app *Application) exec() error {
	res, err := app.compileSource()
	if err != nil {
		return err
	}
	return app.execute(res.Code)
}

func (app *Application) dumpAST() error {
	source, err := fileutil.ReadSource(app.config.Source)
	if err != nil {
		return err
	}
	opts, err := app.compilerOptions()
	if err != nil {
		return err
	}
	prog, errs := compiler.ParseSource(source, opts...)
	if len(errs) > 0 {
		app.reportErrors(errs)
		return ErrReported
	}
	return app.writeOutput([]byte(prog.String()))
}

// dumpTable 組み込み文法または bison レポートから構文表を出力する
func (app *Application) dumpTable() error {
	var table *grammar.Table
	if app.config.BisonPath != "" {
		f, err := os.Open(app.config.BisonPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if table, err = grammar.ParseBisonReport(f); err != nil {
			return fmt.Errorf("%s: %w", app.config.BisonPath, err)
		}
	} else {
		t, conflicts, err := compiler.BuildTable()
		if err != nil {
			return err
		}
		for _, c := range conflicts {
			app.warnColor.Fprintf(app.stderr, "warning: ")
			fmt.Fprintf(app.stderr, "%s\n", c)
		}
		table = t
	}

	var sb strings.Builder
	if app.config.TableFormat == cli.TableFormatVartan {
		if err := table.WriteVartan(&sb, compiler.VartanName); err != nil {
			return err
		}
	} else if err := table.WriteJSON(&sb); err != nil {
		return err
	}
	app.log.Info("Grammar table written",
		"states", table.StateCount(),
		"format", app.config.TableFormat,
		"output", app.config.Output)
	return app.writeOutput([]byte(sb.String()))
}

// execute 命令列をVMで実行する
func (app *Application) execute(program opcode.Program) error {
	input, err := app.readInput()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	opts := []vm.Option{
		vm.WithInput(input),
		vm.WithOutput(app.stdout),
		vm.WithLogger(app.log),
	}
	if app.log.Enabled(ctx, slog.LevelDebug) {
		opts = append(opts, vm.WithTrace(func(pc int, op opcode.OpCode, stack []float64) {
			app.log.Debug("exec", "pc", pc, "op", op.String(), "stack", stack)
		}))
	}

	machine := vm.New(program, opts...)
	if err := machine.Run(ctx); err != nil {
		app.reportErrors([]error{err})
		return ErrReported
	}
	app.log.Debug("Execution finished", "steps", machine.Steps(), "printed", len(machine.Output()))
	return nil
}

// readInput LEIT の入力を --input ファイルまたは標準入力から読む
func (app *Application) readInput() ([]float64, error) {
	if app.config.InputFile != "" && app.config.InputFile != cli.StdStream {
		return fileutil.ReadNumbersFile(app.config.InputFile)
	}
	values, err := fileutil.ReadNumbers(app.stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return values, nil
}

func (app *Application) writeOutput(data []byte) error {
	if app.config.Output == cli.StdStream {
		_, err := app.stdout.Write(data)
		return err
	}
	if err := fileutil.WriteFile(app.config.Output, data); err != nil {
		return err
	}
	app.log.Info("Output written", "path", app.config.Output, "bytes", len(data))
	return nil
}

// reportErrors 診断メッセージを色付きで標準エラーに出力する
func (app *Application) reportErrors(errs []error) {
	for _, err := range errs {
		app.errorColor.Fprint(app.stderr, "error: ")
		fmt.Fprintln(app.stderr, err)
	}
	if len(errs) > 1 {
		app.noteColor.Fprintf(app.stderr, "%d errors\n", len(errs))
	}
}
