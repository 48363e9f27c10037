package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// CreateFile writes a text file under the drive directory.
type CreateFile struct {
	root string
}

func NewCreateFile(root string) *CreateFile {
	return &CreateFile{root: root}
}

type createFileArgs struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

func (c *CreateFile) Name() string { return "createFile" }

func (c *CreateFile) Description() string {
	return "Create or overwrite a text file in the user's drive with the exact content given."
}

func (c *CreateFile) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"fileName": {Type: jsonschema.String, Description: "Relative path of the file inside the drive, e.g. notes/todo.txt"},
			"content":  {Type: jsonschema.String, Description: "Full text content of the file"},
		},
		Required: []string{"fileName", "content"},
	}
}

func (c *CreateFile) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var args createFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("createFile arguments: %w", err)
	}
	path, err := c.resolve(args.FileName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("File '%s' created.", args.FileName), nil
}

// resolve maps a relative file name onto the drive, rejecting anything that
// would land outside it.
func (c *CreateFile) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("fileName is required")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("fileName %q must be relative", name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("fileName %q escapes the drive", name)
	}
	return filepath.Join(c.root, clean), nil
}
