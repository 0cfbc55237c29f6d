package actions

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// PDFExtractModule extracts plain text from a PDF file on disk.
type PDFExtractModule struct{}

func (m *PDFExtractModule) ID() string { return "extract_pdf" }

func (m *PDFExtractModule) Validate(params map[string]any) error {
	if path, _ := params["path"].(string); path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

func (m *PDFExtractModule) Execute(ctx context.Context, input map[string]any, _ string) (map[string]any, error) {
	path := input["path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return map[string]any{
		"text":  strings.TrimSpace(sb.String()),
		"pages": reader.NumPage(),
	}, nil
}

// XLSXExtractModule reads rows from a spreadsheet sheet.
type XLSXExtractModule struct{}

func (m *XLSXExtractModule) ID() string { return "extract_xlsx" }

func (m *XLSXExtractModule) Validate(params map[string]any) error {
	if path, _ := params["path"].(string); path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

func (m *XLSXExtractModule) Execute(_ context.Context, input map[string]any, _ string) (map[string]any, error) {
	path := input["path"].(string)
	xf, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer xf.Close()

	sheet, _ := input["sheet"].(string)
	if sheet == "" {
		sheet = xf.GetSheetName(0)
	}

	rows, err := xf.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, 0, len(row))
		for _, c := range row {
			cells = append(cells, c)
		}
		out = append(out, cells)
	}
	return map[string]any{"sheet": sheet, "rows": out}, nil
}
