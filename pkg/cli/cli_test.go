package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv は環境変数の影響を受けないようにする
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvTable, "")
}

func TestParseArgs_ValidArgs(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name:     "引数なしはヘルプ",
			args:     []string{},
			expected: Config{LogLevel: "info", LogFormat: "text", TableFormat: "json", ShowHelp: true},
		},
		{
			name: "compile の既定出力",
			args: []string{"compile", "dir/prog.php"},
			expected: Config{
				Command: "compile", Source: "dir/prog.php", Output: "dir/prog.obj",
				LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "compile 出力指定（短縮形）",
			args: []string{"compile", "prog.php", "-o", "out.obj", "--no-comments"},
			expected: Config{
				Command: "compile", Source: "prog.php", Output: "out.obj",
				LogLevel: "info", LogFormat: "text", TableFormat: "json", NoComments: true,
			},
		},
		{
			name: "標準出力への compile",
			args: []string{"compile", "-o", "-", "prog.php"},
			expected: Config{
				Command: "compile", Source: "prog.php", Output: "-",
				LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "run 入力ファイルとタイムアウト",
			args: []string{"run", "prog.obj", "--input", "nums.txt", "--timeout", "10"},
			expected: Config{
				Command: "run", Source: "prog.obj", Output: "-", InputFile: "nums.txt",
				Timeout: 10 * time.Second, LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "exec 短縮形",
			args: []string{"-t", "5", "-l", "debug", "exec", "prog.php", "-i", "n.txt"},
			expected: Config{
				Command: "exec", Source: "prog.php", Output: "-", InputFile: "n.txt",
				Timeout: 5 * time.Second, LogLevel: "debug", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "位置引数の間にフラグ（順序に関係なく動作）",
			args: []string{"ast", "--log-format", "json", "prog.php", "--no-color"},
			expected: Config{
				Command: "ast", Source: "prog.php", Output: "-",
				LogLevel: "info", LogFormat: "json", TableFormat: "json", NoColor: true,
			},
		},
		{
			name: "table と bison レポート",
			args: []string{"table", "--bison", "lang.output", "-o", "lr_table.json"},
			expected: Config{
				Command: "table", Output: "lr_table.json", BisonPath: "lang.output",
				LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "構文表の指定",
			args: []string{"exec", "prog.php", "--table", "lr_table.json"},
			expected: Config{
				Command: "exec", Source: "prog.php", Output: "-", TablePath: "lr_table.json",
				LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
		{
			name: "vartan 形式の構文表",
			args: []string{"table", "--table-format", "vartan", "-o", "lang.vartan.json"},
			expected: Config{
				Command: "table", Output: "lang.vartan.json",
				LogLevel: "info", LogFormat: "text", TableFormat: "vartan",
			},
		},
		{
			name:     "コマンド付きヘルプ",
			args:     []string{"run", "--help"},
			expected: Config{Command: "run", LogLevel: "info", LogFormat: "text", TableFormat: "json", ShowHelp: true},
		},
		{
			name: "= 形式のフラグ",
			args: []string{"run", "--timeout=3", "prog.obj"},
			expected: Config{
				Command: "run", Source: "prog.obj", Output: "-",
				Timeout: 3 * time.Second, LogLevel: "info", LogFormat: "text", TableFormat: "json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(*config, tt.expected) {
				t.Errorf("ParseArgs(%q) =\n%+v\nwant\n%+v", tt.args, *config, tt.expected)
			}
		})
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"負のタイムアウト", []string{"run", "p.obj", "--timeout", "-10"}},
		{"無効なログレベル", []string{"run", "p.obj", "--log-level", "invalid"}},
		{"無効なログレベル（短縮形）", []string{"run", "p.obj", "-l", "trace"}},
		{"無効なログ形式", []string{"run", "p.obj", "--log-format", "xml"}},
		{"無効な構文表形式", []string{"table", "--table-format", "yaml"}},
		{"未知のコマンド", []string{"build", "p.php"}},
		{"ファイルなし", []string{"compile"}},
		{"table に余分な引数", []string{"table", "x"}},
		{"引数が多すぎる", []string{"exec", "a.php", "b.php"}},
		{"未知のフラグ", []string{"exec", "a.php", "--verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseArgs(tt.args); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseArgs_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvTimeout, "7")
	t.Setenv(EnvTable, "env_table.json")

	config, err := ParseArgs([]string{"exec", "prog.php"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", config.LogLevel, "warn")
	}
	if config.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", config.Timeout)
	}
	if config.TablePath != "env_table.json" {
		t.Errorf("TablePath = %q, want env_table.json", config.TablePath)
	}

	// コマンドラインフラグが優先
	config, err = ParseArgs([]string{"exec", "prog.php", "-l", "error", "-t", "0", "--table", "flag.json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "error" || config.Timeout != 0 || config.TablePath != "flag.json" {
		t.Errorf("flags did not override env: %+v", *config)
	}

	t.Setenv(EnvTimeout, "soon")
	if _, err := ParseArgs([]string{"exec", "prog.php"}); err == nil {
		t.Error("expected error for non-numeric timeout")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	// 存在しないファイルはエラーにしない
	if err := LoadEnvFile(filepath.Join(dir, ".env")); err != nil {
		t.Fatalf("missing .env: unexpected error: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PHPSTACK_TIMEOUT=4\n# comment\nPHPSTACK_LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// 既に設定済みの変数は上書きしない
	t.Setenv(EnvLogLevel, "error")
	os.Unsetenv(EnvTimeout)

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv(EnvTimeout); got != "4" {
		t.Errorf("%s = %q, want 4", EnvTimeout, got)
	}
	if got := os.Getenv(EnvLogLevel); got != "error" {
		t.Errorf("%s = %q, want error", EnvLogLevel, got)
	}
}

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{
			[]string{"compile", "a.php", "-o", "a.obj"},
			[]string{"-o", "a.obj", "compile", "a.php"},
		},
		{
			[]string{"run", "--no-color", "a.obj"},
			[]string{"--no-color", "run", "a.obj"},
		},
		{
			[]string{"compile", "-o", "-", "a.php"},
			[]string{"-o", "-", "compile", "a.php"},
		},
		{
			[]string{"run", "--timeout=3", "a.obj"},
			[]string{"--timeout=3", "run", "a.obj"},
		},
	}
	for _, tt := range tests {
		if got := reorderArgs(tt.args); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("reorderArgs(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestPrintHelp(t *testing.T) {
	var buf bytes.Buffer
	PrintHelp(&buf)
	out := buf.String()
	for _, want := range []string{"Usage:", "compile", "run", "exec", "ast", "table", EnvLogLevel, EnvTimeout, EnvTable, "--table-format"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}
