package cookies

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Source supplies a raw cookie string when no cookie file exists yet.
type Source interface {
	Cookies(ctx context.Context) (string, error)
}

// Getter is satisfied by paramstore.Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Putter is satisfied by paramstore.Client.
type Putter interface {
	PutParameter(ctx context.Context, name, value string) error
}

// ParamSource reads the cookie string from a parameter store entry.
type ParamSource struct {
	getter Getter
	name   string
}

func NewParamSource(getter Getter, name string) (*ParamSource, error) {
	if getter == nil {
		return nil, errors.New("cookies: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("cookies: parameter name must not be empty")
	}
	return &ParamSource{getter: getter, name: name}, nil
}

func (p *ParamSource) Cookies(ctx context.Context) (string, error) {
	v, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("cookies: read parameter: %w", err)
	}
	return v, nil
}

// Publish stores the jar's header form under name so a ParamSource can
// bootstrap from it elsewhere.
func Publish(ctx context.Context, putter Putter, name string, jar Jar) error {
	if putter == nil {
		return errors.New("cookies: putter must not be nil")
	}
	if err := jar.Validate(); err != nil {
		return err
	}
	if err := putter.PutParameter(ctx, name, jar.Header()); err != nil {
		return fmt.Errorf("cookies: Publish: %w", err)
	}
	return nil
}

// PromptSource asks for the cookie string on a terminal.
type PromptSource struct {
	in  io.Reader
	out io.Writer
}

func NewPromptSource(in io.Reader, out io.Writer) *PromptSource {
	return &PromptSource{in: in, out: out}
}

func (p *PromptSource) Cookies(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.out != nil {
		_, _ = fmt.Fprint(p.out, "Enter your cookies: ")
	}
	sc := bufio.NewScanner(p.in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("cookies: read prompt: %w", err)
		}
		return "", errors.New("cookies: no input")
	}
	line := strings.TrimSpace(sc.Text())
	if line == "" {
		return "", errors.New("cookies: empty input")
	}
	return line, nil
}
