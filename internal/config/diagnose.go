// internal/config/diagnose.go
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// KeyDiagnosis API 密钥格式检查结果，不包含完整密钥
type KeyDiagnosis struct {
	Present       bool   `json:"present"`
	Length        int    `json:"length"`
	Head          string `json:"head"`
	Tail          string `json:"tail"`
	HasQuotes     bool   `json:"has_quotes"`
	HasSpaces     bool   `json:"has_spaces"`
	HasNewlines   bool   `json:"has_newlines"`
	HasGroqPrefix bool   `json:"has_groq_prefix"`
	CleanedLength int    `json:"cleaned_length"`
	CleanedHead   string `json:"cleaned_head"`
	CleanedTail   string `json:"cleaned_tail"`
}

// DiagnoseAPIKey 检查原始密钥字符串的常见问题
func DiagnoseAPIKey(raw string) KeyDiagnosis {
	if raw == "" {
		return KeyDiagnosis{}
	}

	cleaned := CleanAPIKey(raw)
	return KeyDiagnosis{
		Present:       true,
		Length:        len(raw),
		Head:          head(raw, 10),
		Tail:          tail(raw, 5),
		HasQuotes:     strings.ContainsAny(raw, `"'`),
		HasSpaces:     strings.Contains(raw, " "),
		HasNewlines:   strings.ContainsAny(raw, "\r\n"),
		HasGroqPrefix: strings.HasPrefix(raw, "gsk_"),
		CleanedLength: len(cleaned),
		CleanedHead:   head(cleaned, 10),
		CleanedTail:   tail(cleaned, 5),
	}
}

// Problems 人类可读的问题列表
func (d KeyDiagnosis) Problems() []string {
	if !d.Present {
		return []string{"环境变量中没有 API 密钥"}
	}

	var problems []string
	if d.HasQuotes {
		problems = append(problems, "密钥包含引号")
	}
	if d.HasSpaces {
		problems = append(problems, "密钥包含空格")
	}
	if d.HasNewlines {
		problems = append(problems, "密钥包含换行")
	}
	if !d.HasGroqPrefix {
		problems = append(problems, "密钥不以 gsk_ 开头")
	}
	return problems
}

// EnvLine .env 中涉及密钥的一行
type EnvLine struct {
	Number  int    `json:"number"`
	Problem string `json:"problem,omitempty"`
}

// EnvFileDiagnosis .env 文件检查结果
type EnvFileDiagnosis struct {
	Exists bool      `json:"exists"`
	Parsed bool      `json:"parsed"`
	HasKey bool      `json:"has_key"`
	Lines  []EnvLine `json:"lines"`
}

// DiagnoseEnvFile 检查 .env 中 key 所在行的格式
func DiagnoseEnvFile(path, key string) EnvFileDiagnosis {
	content, err := os.ReadFile(path)
	if err != nil {
		return EnvFileDiagnosis{}
	}

	diag := EnvFileDiagnosis{Exists: true, Lines: []EnvLine{}}
	if values, err := godotenv.Read(path); err == nil {
		diag.Parsed = true
		diag.HasKey = values[key] != ""
	}

	for i, line := range strings.Split(string(content), "\n") {
		if !strings.Contains(line, key) {
			continue
		}

		entry := EnvLine{Number: i + 1}
		switch {
		case !strings.Contains(line, "="):
			entry.Problem = "缺少 '='"
		case strings.Count(line, "=") > 1:
			entry.Problem = "包含多个 '='"
		case strings.HasSuffix(strings.TrimSpace(line), "="):
			entry.Problem = "'=' 之后没有值"
		}
		diag.Lines = append(diag.Lines, entry)
	}
	return diag
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
