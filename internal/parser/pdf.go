// internal/parser/pdf.go
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	errEmptyPath       = errors.New("document path is empty")
	errEmptyPDFContent = errors.New("pdf content is empty")
)

// ReadPDFFile 提取 PDF 文件的纯文本
func ReadPDFFile(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	return plainText(reader)
}

// ReadPDF 从内存流中提取 PDF 纯文本（上传文件）
func ReadPDF(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errEmptyPDFContent
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	return plainText(reader)
}

func plainText(reader *pdf.Reader) (string, error) {
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadDocument 按扩展名读取原始文档：.pdf 走 PDF 提取，其余按 UTF-8 文本读取
func LoadDocument(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return ReadPDFFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
