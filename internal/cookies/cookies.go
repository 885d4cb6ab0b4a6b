// Package cookies loads, validates and persists the browser session cookies
// the chat endpoint authenticates with.
package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"blackbox-agent/internal/fileutil"
)

// Required lists the cookies a session cannot work without.
var Required = []string{
	"sessionId",
	"__Host-authjs.csrf-token",
	"__Secure-authjs.session-token",
}

// ErrMissingCookies matches any *MissingError.
var ErrMissingCookies = errors.New("cookies: required cookies missing")

// MissingError names the required cookies a jar lacks.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "cookies: missing required cookies: " + strings.Join(e.Names, ", ")
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissingCookies
}

var separator = regexp.MustCompile(`;\s*`)

type Metadata struct {
	CreatedAt    string `json:"created_at"`
	LastModified string `json:"last_modified"`
}

// Jar is the on-disk cookie file.
type Jar struct {
	Cookies  map[string]string `json:"cookies"`
	Metadata Metadata          `json:"metadata"`
}

// Parse reads a "name=value; name=value" string as pasted from a browser.
// Items without "=" are ignored; values may themselves contain "=".
func Parse(raw string, now time.Time) Jar {
	jar := Jar{Cookies: make(map[string]string)}
	for _, item := range separator.Split(strings.TrimSpace(raw), -1) {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		jar.Cookies[name] = value
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	jar.Metadata = Metadata{CreatedAt: ts, LastModified: ts}
	return jar
}

// Header renders the jar as a Cookie header value, sorted by name.
func (j Jar) Header() string {
	names := make([]string, 0, len(j.Cookies))
	for name := range j.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+j.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Validate reports a *MissingError when any Required cookie is absent.
func (j Jar) Validate() error {
	var missing []string
	for _, name := range Required {
		if _, ok := j.Cookies[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

// Decode reads a cookie file. Files holding a flat name→value object are
// accepted as well.
func Decode(raw []byte) (Jar, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Jar{}, fmt.Errorf("cookies: decode: %w", err)
	}
	if _, ok := probe["cookies"]; ok {
		var jar Jar
		if err := json.Unmarshal(raw, &jar); err != nil {
			return Jar{}, fmt.Errorf("cookies: decode: %w", err)
		}
		if jar.Cookies == nil {
			jar.Cookies = map[string]string{}
		}
		return jar, nil
	}
	flat := make(map[string]string, len(probe))
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Jar{}, fmt.Errorf("cookies: decode: %w", err)
	}
	return Jar{Cookies: flat}, nil
}

// Save writes the jar to path atomically.
func Save(path string, jar Jar) error {
	raw, err := json.MarshalIndent(jar, "", "    ")
	if err != nil {
		return fmt.Errorf("cookies: Save: %w", err)
	}
	if err := fileutil.WriteAtomic(path, raw, 0o600); err != nil {
		return fmt.Errorf("cookies: Save: %w", err)
	}
	return nil
}

// Load reads the cookie file at path. When the file does not exist the jar
// is bootstrapped from src and persisted; a nil src makes that an error.
func Load(ctx context.Context, path string, src Source, now func() time.Time) (Jar, error) {
	if strings.TrimSpace(path) == "" {
		return Jar{}, errors.New("cookies: path must not be empty")
	}
	if now == nil {
		now = time.Now
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		return Decode(raw)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Jar{}, fmt.Errorf("cookies: Load: %w", err)
	}
	if src == nil {
		return Jar{}, fmt.Errorf("cookies: Load: %s does not exist and no cookie source is configured", path)
	}
	s, err := src.Cookies(ctx)
	if err != nil {
		return Jar{}, fmt.Errorf("cookies: Load: %w", err)
	}
	jar := Parse(s, now())
	if len(jar.Cookies) == 0 {
		return Jar{}, errors.New("cookies: Load: source returned no cookies")
	}
	if err := Save(path, jar); err != nil {
		return Jar{}, err
	}
	return jar, nil
}
