package styles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// validateTimeout bounds the validator subprocess.
const validateTimeout = 15 * time.Second

// Validator runs the external style validator over a full style document.
// A nil Validator skips validation (binary not installed).
type Validator struct {
	binary string
}

// NewValidator returns a Validator if the validator binary is on PATH, nil
// otherwise.
func NewValidator(binary string) *Validator {
	if binary == "" {
		binary = "gl-style-validate"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil
	}
	return &Validator{binary: binary}
}

// Validate feeds the style document to the validator subprocess. A non-zero
// exit means the style was rejected; the validator's output is surfaced so
// the LLM can correct the style.
func (v *Validator) Validate(ctx context.Context, styleDoc map[string]any) error {
	if v == nil {
		return nil
	}

	doc, err := json.Marshal(styleDoc)
	if err != nil {
		return fmt.Errorf("failed to marshal style document: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, v.binary)
	cmd.Stdin = bytes.NewReader(doc)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("style validation failed: %s", detail)
	}
	return nil
}
