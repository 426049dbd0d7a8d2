package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs every instruction as an external command. The instruction is written
// to stdin as JSON; a non-empty stdout must be a JSON Outcome. A non-zero exit status fails
// the execution with the command's stderr.
type CommandRunner struct {
	Command string
	Args    []string

	// Env is appended to the environment of the command.
	Env []string
}

var _ Runner = (*CommandRunner)(nil)

// Run implements the Runner interface.
func (r *CommandRunner) Run(ctx context.Context, item Item) (Outcome, error) {
	payload, err := json.Marshal(item.Instruction)
	if err != nil {
		return Outcome{}, Error.Wrap(err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		"MEDALLION_LAYER="+string(item.Layer),
		"MEDALLION_RUN_ID="+item.RunID.String(),
		"MEDALLION_PATH="+item.Instruction.Path,
	)
	cmd.Env = append(cmd.Env, r.Env...)

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Outcome{}, Error.New("%s: %v: %s", item.Instruction.Path, err, msg)
		}
		return Outcome{}, Error.New("%s: %v", item.Instruction.Path, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return Outcome{}, nil
	}
	var outcome Outcome
	if err := json.Unmarshal(out, &outcome); err != nil {
		return Outcome{}, Error.New("%s: invalid outcome: %v", item.Instruction.Path, err)
	}
	return outcome, nil
}
