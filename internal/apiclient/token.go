package apiclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rollcall/pkg/interfaces"
)

// StaticToken always returns the same bearer token
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", interfaces.ErrNoToken
	}
	return string(s), nil
}

// FileToken re-reads the token file on every call so an external login flow can rotate it
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", interfaces.ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file %s: %w", f.Path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", interfaces.ErrNoToken
	}
	return token, nil
}

// TokenSourceFor picks a file source when path is set, the literal token otherwise
func TokenSourceFor(token, path string) interfaces.TokenSource {
	if path != "" {
		return FileToken{Path: path}
	}
	return StaticToken(token)
}
