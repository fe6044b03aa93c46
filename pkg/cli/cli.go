package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zurustar/phpstack/pkg/logger"
)

// サブコマンド
const (
	CommandCompile = "compile"
	CommandRun     = "run"
	CommandExec    = "exec"
	CommandAST     = "ast"
	CommandTable   = "table"
)

// 環境変数名
const (
	EnvLogLevel = "PHPSTACK_LOG_LEVEL"
	EnvTimeout  = "PHPSTACK_TIMEOUT"
	EnvTable    = "PHPSTACK_TABLE"
)

// StdStream は -o や --input で標準入出力を表す
const StdStream = "-"

// 構文表の形式
const (
	TableFormatJSON   = "json"
	TableFormatVartan = "vartan"
)

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	Command     string        // compile, run, exec, ast, table
	Source      string        // ソースファイルまたは命令ファイルのパス
	Output      string        // 出力先（"-" は標準出力）
	InputFile   string        // LEIT が読む数値ファイル（空なら標準入力）
	TablePath   string        // 構文表 JSON のパス（空なら組み込み文法から生成）
	BisonPath   string        // table コマンドで変換する bison レポート
	TableFormat string        // 構文表の形式（json, vartan）
	Timeout     time.Duration // 実行タイムアウト（0は無制限）
	LogLevel    string        // ログレベル（debug, info, warn, error）
	LogFormat   string        // ログ形式（text, json）
	NoComments  bool          // 命令ファイルにコメントを出力しない
	NoColor     bool          // 診断メッセージの色付けを無効化
	ShowHelp    bool          // ヘルプ表示フラグ
}

// boolFlags は値を取らないフラグ
var boolFlags = map[string]bool{
	"-h": true, "--h": true, "-help": true, "--help": true,
	"-no-comments": true, "--no-comments": true,
	"-no-color": true, "--no-color": true,
}

// LoadEnvFile は .env ファイルを環境変数に読み込む
// ファイルが無い場合は何もしない。既存の環境変数は上書きしない
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("phpstack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}

	var timeoutSec int
	fs.StringVar(&config.Output, "output", "", "出力ファイル")
	fs.StringVar(&config.Output, "o", "", "出力ファイル（短縮形）")
	fs.StringVar(&config.InputFile, "input", "", "入力数値ファイル")
	fs.StringVar(&config.InputFile, "i", "", "入力数値ファイル（短縮形）")
	fs.StringVar(&config.TablePath, "table", "", "構文表 JSON")
	fs.StringVar(&config.BisonPath, "bison", "", "bison レポート")
	fs.StringVar(&config.TableFormat, "table-format", TableFormatJSON, "構文表の形式（json, vartan）")
	fs.IntVar(&timeoutSec, "timeout", 0, "タイムアウト時間（秒）")
	fs.IntVar(&timeoutSec, "t", 0, "タイムアウト時間（秒）（短縮形）")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.StringVar(&config.LogFormat, "log-format", "text", "ログ形式（text, json）")
	fs.BoolVar(&config.NoComments, "no-comments", false, "コメントなしで出力")
	fs.BoolVar(&config.NoColor, "no-color", false, "色付けを無効化")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !set["timeout"] && !set["t"] {
		if env := os.Getenv(EnvTimeout); env != "" {
			t, err := strconv.Atoi(env)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %q", EnvTimeout, env)
			}
			timeoutSec = t
		}
	}
	if !set["log-level"] && !set["l"] {
		if env := os.Getenv(EnvLogLevel); env != "" {
			config.LogLevel = env
		}
	}
	if !set["table"] {
		config.TablePath = os.Getenv(EnvTable)
	}
	config.LogLevel = strings.ToLower(config.LogLevel)

	// タイムアウトの検証
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	// ログ設定の検証
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}
	if config.LogFormat != "text" && config.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format: %s (must be text or json)", config.LogFormat)
	}
	if config.TableFormat != TableFormatJSON && config.TableFormat != TableFormatVartan {
		return nil, fmt.Errorf("invalid table format: %s (must be json or vartan)", config.TableFormat)
	}

	// 位置引数: <command> [file]
	if fs.NArg() == 0 {
		config.ShowHelp = true
		return config, nil
	}
	config.Command = fs.Arg(0)
	if fs.NArg() > 2 {
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(fs.Args()[2:], " "))
	}
	if fs.NArg() == 2 {
		config.Source = fs.Arg(1)
	}
	if config.ShowHelp {
		return config, nil
	}

	switch config.Command {
	case CommandCompile, CommandRun, CommandExec, CommandAST:
		if config.Source == "" {
			return nil, fmt.Errorf("%s: missing source file", config.Command)
		}
	case CommandTable:
		if config.Source != "" {
			return nil, fmt.Errorf("table: unexpected argument %s", config.Source)
		}
	default:
		return nil, fmt.Errorf("unknown command: %s", config.Command)
	}

	// compile の既定出力はソースと同じ場所の .obj
	if config.Output == "" {
		if config.Command == CommandCompile {
			config.Output = strings.TrimSuffix(config.Source, filepath.Ext(config.Source)) + ".obj"
		} else {
			config.Output = StdStream
		}
	}

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// フラグかどうかを判定（-で始まり、"-" 単体は除く）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			// -o out.obj のように値が続く場合は次の引数も追加
			// "-" は標準入出力を表す値として扱う
			if !boolFlags[arg] && !strings.Contains(arg, "=") && i+1 < len(args) &&
				(args[i+1] == StdStream || len(args[i+1]) > 0 && args[i+1][0] != '-') {
				i++
				flags = append(flags, args[i])
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `phpstack - PHP subset compiler and stack machine

Usage:
  phpstack <command> [options] [file]

Commands:
  compile <src.php>   ソースをコンパイルして命令ファイルを出力（既定: <src>.obj）
  run <prog.obj>      命令ファイルを実行
  exec <src.php>      コンパイルしてそのまま実行
  ast <src.php>       構文木を表示
  table               組み込み文法の構文表を JSON で出力

Options:
  -o, --output <path>         出力先（"-" は標準出力）
  -i, --input <path>          LEIT が読む数値ファイル（既定: 標準入力）
  --table <path>              構文表 JSON を使用（既定: 組み込み文法から生成）
  --bison <report>            table: bison --report の出力を変換
  --table-format <format>     構文表の形式: json, vartan（デフォルト: json）
  -t, --timeout <seconds>     実行タイムアウト（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  --log-format <format>       ログ形式: text, json（デフォルト: text）
  --no-comments               命令ファイルにコメントを出力しない
  --no-color                  診断メッセージの色付けを無効化
  -h, --help                  このヘルプを表示

Environment Variables:
  PHPSTACK_LOG_LEVEL=<level>  ログレベル
  PHPSTACK_TIMEOUT=<seconds>  実行タイムアウト（秒）
  PHPSTACK_TABLE=<path>       構文表 JSON
  カレントディレクトリの .env も読み込む（フラグが優先）

Examples:
  phpstack compile prog.php -o prog.obj
  phpstack run prog.obj --input numbers.txt
  echo "1 2" | phpstack exec prog.php
  phpstack table -o lr_table.json
  phpstack table --bison lang.output -o lr_table.json
  phpstack table --table-format vartan -o lang.vartan.json
  phpstack exec prog.php --table lang.vartan.json --table-format vartan
`)
}
