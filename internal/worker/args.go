// internal/worker/args.go
package worker

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"ai-orchestrator/internal/domain"
)

// stringArg reads a task argument by position, falling back to kwargs[key].
// Missing and null arguments yield "".
func stringArg(msg *domain.TaskMessage, pos int, key string) (string, error) {
	var raw any
	if pos < len(msg.Args) {
		raw = msg.Args[pos]
	}
	if raw == nil {
		raw = msg.Kwargs[key]
	}
	if raw == nil {
		return "", nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", domain.ValidationFailure(msg.TaskName, fmt.Sprintf("argument %s is not a string", key), fmt.Sprint(raw))
	}
	return s, nil
}

func requiredStringArg(msg *domain.TaskMessage, pos int, key string) (string, error) {
	s, err := stringArg(msg, pos, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", domain.ValidationFailure(msg.TaskName, "missing required argument "+key, "")
	}
	return s, nil
}
