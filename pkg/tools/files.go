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
	"context"
	"fmt"

	"github.com/kadirpekel/ensemble/pkg/vfs"
)

// The file tools operate exclusively on the session's sandboxed
// filesystem. Nothing here touches the host.

// ReadFileTool returns the contents of a sandbox file as text.
type ReadFileTool struct {
	definition Definition
}

var _ Tool = (*ReadFileTool)(nil)

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Relative path inside the session filesystem"`
}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{
		definition: Definition{
			Name:        "read_file",
			Description: "Read a file from the session filesystem.",
			Parameters:  schemaFor(&readFileArgs{}),
			Category:    "files",
		},
	}
}

func (t *ReadFileTool) Definition() Definition {
	return t.definition
}

func (t *ReadFileTool) Execute(_ context.Context, params map[string]any, tctx *ToolContext) (any, error) {
	fs, err := sandboxFS(tctx)
	if err != nil {
		return nil, err
	}
	p, _ := params["path"].(string)
	data, err := fs.Read(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"path":    p,
		"content": string(data),
		"size":    len(data),
	}, nil
}

// WriteFileTool stores text under a sandbox path, replacing any previous
// contents.
type WriteFileTool struct {
	definition Definition
}

var _ Tool = (*WriteFileTool)(nil)

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Relative path inside the session filesystem"`
	Content string `json:"content" jsonschema:"description=Full file contents to write"`
}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{
		definition: Definition{
			Name:        "write_file",
			Description: "Write a file into the session filesystem, overwriting any existing file at that path.",
			Parameters:  schemaFor(&writeFileArgs{}),
			Category:    "files",
		},
	}
}

func (t *WriteFileTool) Definition() Definition {
	return t.definition
}

func (t *WriteFileTool) Execute(_ context.Context, params map[string]any, tctx *ToolContext) (any, error) {
	fs, err := sandboxFS(tctx)
	if err != nil {
		return nil, err
	}
	p, _ := params["path"].(string)
	content, _ := params["content"].(string)
	if err := fs.Write(p, []byte(content)); err != nil {
		return nil, err
	}
	return map[string]any{
		"path":  p,
		"bytes": len(content),
	}, nil
}

// ListFilesTool enumerates the sandbox.
type ListFilesTool struct {
	definition Definition
}

var _ Tool = (*ListFilesTool)(nil)

type listFilesArgs struct{}

func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{
		definition: Definition{
			Name:        "list_files",
			Description: "List every file in the session filesystem with its size.",
			Parameters:  schemaFor(&listFilesArgs{}),
			Category:    "files",
		},
	}
}

func (t *ListFilesTool) Definition() Definition {
	return t.definition
}

func (t *ListFilesTool) Execute(_ context.Context, _ map[string]any, tctx *ToolContext) (any, error) {
	fs, err := sandboxFS(tctx)
	if err != nil {
		return nil, err
	}
	infos := fs.List()
	files := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		files = append(files, map[string]any{
			"path": info.Path,
			"size": info.Size,
		})
	}
	return map[string]any{"files": files}, nil
}

func sandboxFS(tctx *ToolContext) (*vfs.FS, error) {
	if tctx == nil || tctx.FS == nil {
		return nil, fmt.Errorf("no session filesystem")
	}
	return tctx.FS, nil
}
