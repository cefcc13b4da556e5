// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// maxExtractedCells caps how much of a spreadsheet lands in the output.
const maxExtractedCells = 1000

// ExtractDocumentTool turns PDF, DOCX and XLSX attachments in the session
// filesystem into plain text sub-agents can reason over. When a document
// root is configured, files missing from the sandbox are looked up there
// as a read-only fallback.
type ExtractDocumentTool struct {
	definition   Definition
	documentRoot string
}

var _ Tool = (*ExtractDocumentTool)(nil)

type extractDocumentArgs struct {
	Path string `json:"path" jsonschema:"description=Relative path of a .pdf, .docx or .xlsx file in the session filesystem"`
}

func NewExtractDocumentTool(documentRoot string) *ExtractDocumentTool {
	return &ExtractDocumentTool{
		definition: Definition{
			Name:        "extract_document",
			Description: "Extract the plain text of a PDF, Word or Excel document from the session filesystem.",
			Parameters:  schemaFor(&extractDocumentArgs{}),
			Category:    "files",
		},
		documentRoot: documentRoot,
	}
}

func (t *ExtractDocumentTool) Definition() Definition {
	return t.definition
}

func (t *ExtractDocumentTool) Execute(ctx context.Context, params map[string]any, tctx *ToolContext) (any, error) {
	fs, err := sandboxFS(tctx)
	if err != nil {
		return nil, err
	}
	p, _ := params["path"].(string)
	data, err := fs.Read(p)
	if err != nil {
		if t.documentRoot == "" || !errors.Is(err, vfs.ErrNotFound) {
			return nil, err
		}
		data, err = t.readFromRoot(p)
		if err != nil {
			return nil, err
		}
	}

	ext := strings.ToLower(path.Ext(p))
	var content string
	switch ext {
	case ".pdf":
		content, err = extractPDF(ctx, data)
	case ".docx":
		content, err = extractDocx(data)
	case ".xlsx":
		content, err = extractXlsx(ctx, data)
	default:
		return nil, fmt.Errorf("no extractor for %s files", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", p, err)
	}

	return map[string]any{
		"path":    p,
		"format":  strings.TrimPrefix(ext, "."),
		"content": content,
		"words":   len(strings.Fields(content)),
	}, nil
}

// readFromRoot resolves p under the configured document root, rejecting
// paths that would escape it.
func (t *ExtractDocumentTool) readFromRoot(p string) ([]byte, error) {
	cleaned := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %s escapes the document root", p)
	}
	return os.ReadFile(filepath.Join(t.documentRoot, cleaned))
}

func extractPDF(ctx context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- Page %d (extraction failed: %v) ---", pageNum, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", pageNum, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing Word document: %w", err)
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func extractXlsx(ctx context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing Excel document: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var sheetText strings.Builder
		sheetText.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheetName))

		rows, err := f.GetRows(sheetName)
		if err != nil {
			sheetText.WriteString(fmt.Sprintf("Error reading sheet: %v\n", err))
			parts = append(parts, sheetText.String())
			continue
		}

		cellCount := 0
		for rowIndex, row := range rows {
			if cellCount >= maxExtractedCells {
				sheetText.WriteString("... (truncated)\n")
				break
			}
			for colIndex, cell := range row {
				if cellCount >= maxExtractedCells {
					break
				}
				if text := strings.TrimSpace(cell); text != "" {
					sheetText.WriteString(fmt.Sprintf("%s%d: %s\n", columnLetter(colIndex), rowIndex+1, text))
					cellCount++
				}
			}
		}

		if text := strings.TrimSpace(sheetText.String()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// columnLetter converts a 0-based column index to an Excel column letter
// (A, B, ..., Z, AA, AB, ...).
func columnLetter(index int) string {
	result := ""
	for {
		result = string(rune('A'+index%26)) + result
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return result
}
