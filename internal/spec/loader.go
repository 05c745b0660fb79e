package spec

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// MaxDocumentSize bounds how much of an input document is read.
const MaxDocumentSize = 10 * 1024 * 1024

// LoadSource reads the raw bytes of an API description from a filesystem path
// or an http/https URL. file:// URLs are blocked; plain paths are the way to
// name local files.
func LoadSource(ctx context.Context, input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &Error{Kind: InputError, Message: "spec: input is empty"}
	}

	u, uerr := url.Parse(input)
	if uerr == nil && strings.EqualFold(u.Scheme, "file") {
		return nil, &Error{Kind: InputError, Message: "spec: file:// URLs are blocked", Location: input}
	}
	if uerr != nil || u.Scheme == "" || u.Host == "" {
		return readLocal(input)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" {
		return nil, &Error{Kind: InputError, Message: "spec: file:// URLs are blocked", Location: input}
	}
	if scheme != "http" && scheme != "https" {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("spec: unsupported URL scheme %q (only http/https allowed)", scheme), Location: input}
	}

	dir, err := os.MkdirTemp("", "specforge-fetch-")
	if err != nil {
		return nil, fmt.Errorf("spec: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "document")
	if err := getter.GetFile(dst, input, getter.WithContext(ctx)); err != nil {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("fetch %s", input), Location: input, Cause: err}
	}
	return readLocal(dst)
}

func readLocal(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Kind: InputError, Message: "resolve path", Location: path, Cause: err}
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("read file %s", abs), Location: abs, Cause: err}
	}
	if st.IsDir() {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("%s is a directory", abs), Location: abs}
	}
	if st.Size() > MaxDocumentSize {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("%s exceeds %d bytes", abs, MaxDocumentSize), Location: abs}
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, &Error{Kind: InputError, Message: fmt.Sprintf("read file %s", abs), Location: abs, Cause: err}
	}
	return raw, nil
}

// Load reads input and parses it into an APIModel.
func Load(ctx context.Context, input string, opts ...ParseOption) (*APIModel, error) {
	raw, err := LoadSource(ctx, input)
	if err != nil {
		return nil, err
	}
	m, err := Parse(raw, opts...)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Location == "" {
			se.Location = input
		}
		return nil, err
	}
	return m, nil
}
