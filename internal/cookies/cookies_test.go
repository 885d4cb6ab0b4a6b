package cookies

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fullCookies = "sessionId=abc; __Host-authjs.csrf-token=tok%7Chash; __Secure-authjs.session-token=jwt==; theme=dark"

var fixedNow = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func clock() time.Time { return fixedNow }

type stubSource struct {
	val   string
	err   error
	calls int
}

func (s *stubSource) Cookies(context.Context) (string, error) {
	s.calls++
	return s.val, s.err
}

func TestParse(t *testing.T) {
	jar := Parse("a=1;b=2==;  c=x=y ; junk; =nameless", fixedNow)
	require.Equal(t, map[string]string{"a": "1", "b": "2==", "c": "x=y "}, jar.Cookies)
	require.Equal(t, "2026-02-03T04:05:06Z", jar.Metadata.CreatedAt)
	require.Equal(t, jar.Metadata.CreatedAt, jar.Metadata.LastModified)
}

func TestHeader_SortedByName(t *testing.T) {
	jar := Jar{Cookies: map[string]string{"zeta": "1", "alpha": "2", "mid": "3"}}
	require.Equal(t, "alpha=2; mid=3; zeta=1", jar.Header())
	require.Empty(t, Jar{}.Header())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Parse(fullCookies, fixedNow).Validate())

	err := Parse("sessionId=abc", fixedNow).Validate()
	require.ErrorIs(t, err, ErrMissingCookies)
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{"__Host-authjs.csrf-token", "__Secure-authjs.session-token"}, missing.Names)
}

func TestDecode(t *testing.T) {
	jar, err := Decode([]byte(`{"cookies":{"a":"1"},"metadata":{"created_at":"x","last_modified":"y"}}`))
	require.NoError(t, err)
	require.Equal(t, "1", jar.Cookies["a"])
	require.Equal(t, "x", jar.Metadata.CreatedAt)

	jar, err = Decode([]byte(`{"a":"1","b":"2"}`))
	require.NoError(t, err)
	require.Equal(t, "a=1; b=2", jar.Header())

	_, err = Decode([]byte(`{broken`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"a":{"nested":true}}`))
	require.Error(t, err)
}

func TestLoad_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, Save(path, Parse(fullCookies, fixedNow)))
	src := &stubSource{val: "ignored=1"}

	jar, err := Load(context.Background(), path, src, clock)
	require.NoError(t, err)
	require.NoError(t, jar.Validate())
	require.Zero(t, src.calls)
}

func TestLoad_BootstrapsFromSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	src := &stubSource{val: fullCookies}

	jar, err := Load(context.Background(), path, src, clock)
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)
	require.Equal(t, "abc", jar.Cookies["sessionId"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	saved, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, jar, saved)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := Load(ctx, "", nil, clock)
	require.Error(t, err)

	_, err = Load(ctx, filepath.Join(dir, "missing.json"), nil, clock)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no cookie source")

	_, err = Load(ctx, filepath.Join(dir, "a.json"), &stubSource{err: errors.New("boom")}, clock)
	require.ErrorContains(t, err, "boom")

	_, err = Load(ctx, filepath.Join(dir, "b.json"), &stubSource{val: "nothing here"}, clock)
	require.ErrorContains(t, err, "no cookies")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o600))
	_, err = Load(ctx, bad, nil, clock)
	require.ErrorContains(t, err, "decode")
}

type fakeParams struct {
	vals   map[string]string
	getErr error
	putErr error
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.vals[name], nil
}

func (f *fakeParams) PutParameter(_ context.Context, name, value string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.vals == nil {
		f.vals = map[string]string{}
	}
	f.vals[name] = value
	return nil
}

func TestParamSource(t *testing.T) {
	_, err := NewParamSource(nil, "x")
	require.Error(t, err)
	_, err = NewParamSource(&fakeParams{}, " ")
	require.Error(t, err)

	params := &fakeParams{vals: map[string]string{"/agent/cookies": fullCookies}}
	src, err := NewParamSource(params, "/agent/cookies")
	require.NoError(t, err)
	v, err := src.Cookies(context.Background())
	require.NoError(t, err)
	require.Equal(t, fullCookies, v)

	params.getErr = errors.New("denied")
	_, err = src.Cookies(context.Background())
	require.ErrorContains(t, err, "denied")
}

func TestPublish(t *testing.T) {
	params := &fakeParams{}
	ctx := context.Background()

	require.ErrorIs(t, Publish(ctx, params, "/p", Parse("a=1", fixedNow)), ErrMissingCookies)
	require.Empty(t, params.vals)

	jar := Parse(fullCookies, fixedNow)
	require.NoError(t, Publish(ctx, params, "/p", jar))
	require.Equal(t, jar.Header(), params.vals["/p"])

	params.putErr = errors.New("throttled")
	require.ErrorContains(t, Publish(ctx, params, "/p", jar), "throttled")
	require.Error(t, Publish(ctx, nil, "/p", jar))
}

func TestPromptSource(t *testing.T) {
	var out bytes.Buffer
	src := NewPromptSource(strings.NewReader("  a=1; b=2  \n"), &out)
	v, err := src.Cookies(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a=1; b=2", v)
	require.Equal(t, "Enter your cookies: ", out.String())

	_, err = NewPromptSource(strings.NewReader(""), nil).Cookies(context.Background())
	require.Error(t, err)
	_, err = NewPromptSource(strings.NewReader("\n"), nil).Cookies(context.Background())
	require.ErrorContains(t, err, "empty")
}
