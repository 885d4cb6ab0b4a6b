package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/term"

	"blackbox-agent/internal/config"
	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/cookies"
	"blackbox-agent/internal/integrations/blackbox"
	"blackbox-agent/internal/integrations/paramstore"
	"blackbox-agent/internal/repository"
	"blackbox-agent/internal/scraper"
	"blackbox-agent/internal/token"
	"blackbox-agent/internal/usecase"
)

type app struct {
	chat   *usecase.ChatService
	closer io.Closer
}

func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// newLogger writes text records when stderr is a terminal and JSON
// records otherwise.
func newLogger(verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func newApp(ctx context.Context, cfg *config.Config, source cookies.Source, logger *slog.Logger) (*app, error) {
	jar, err := cookies.Load(ctx, cfg.Paths.Cookies, source, time.Now)
	if err != nil {
		return nil, err
	}
	if err := jar.Validate(); err != nil {
		logger.Warn("cookie jar is incomplete", "err", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	extractor, err := scraper.New(cfg.BaseURL,
		scraper.WithHTTPClient(httpClient),
		scraper.WithHeaders(blackbox.DefaultHeaders()),
		scraper.WithLogger(logger.With("component", "scraper")),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewCache(cfg.Paths.TokenCache, extractor,
		token.WithTTL(cfg.Token.TTL),
		token.WithRevalidation(cfg.Token.Revalidate),
		token.WithLogger(logger.With("component", "token")),
	)
	if err != nil {
		return nil, err
	}
	client, err := blackbox.NewClient(jar.Header(), tokens,
		blackbox.WithBaseURL(cfg.BaseURL),
		blackbox.WithHTTPClient(httpClient),
		blackbox.WithLogger(logger.With("component", "blackbox")),
	)
	if err != nil {
		return nil, err
	}

	backend, closer, err := openBackend(cfg.Storage, cfg.Paths.Bolt)
	if err != nil {
		return nil, err
	}
	store, err := conversation.NewStore(backend, conversation.WithLogger(logger.With("component", "conversation")))
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	chat, err := usecase.NewChatService(store, client,
		usecase.WithHistory(cfg.Chat.History),
		usecase.WithMaxQuestionLength(cfg.Chat.MaxQuestionLength),
		usecase.WithSystemPrompt(cfg.Chat.SystemPrompt),
		usecase.WithLogger(logger),
	)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	logger.Debug("ready", "backend", cfg.Storage.Backend, "capability", store.Capability().String())
	return &app{chat: chat, closer: closer}, nil
}

func openBackend(storage config.StorageConfig, boltPath string) (conversation.Backend, io.Closer, error) {
	var (
		inner  conversation.SyncBackend
		closer io.Closer
	)
	switch storage.Backend {
	case config.BackendBolt:
		db, err := repository.OpenBolt(boltPath)
		if err != nil {
			return nil, nil, err
		}
		inner, closer = db, db
	default:
		inner = conversation.NewMemoryBackend()
	}
	if !storage.Async {
		return inner, closer, nil
	}
	adapted, err := conversation.NewAsyncAdapter(inner)
	if err != nil {
		closeQuietly(closer)
		return nil, nil, err
	}
	return adapted, closer, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// publishCookies loads the local jar, prompting when the file is missing,
// and writes its Cookie header to an SSM parameter.
func publishCookies(ctx context.Context, cfg *config.Config, source cookies.Source, name string, logger *slog.Logger) error {
	jar, err := cookies.Load(ctx, cfg.Paths.Cookies, source, time.Now)
	if err != nil {
		return err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	if err := cookies.Publish(ctx, params, name, jar); err != nil {
		return err
	}
	logger.Info("cookies published", "parameter", name, "count", len(jar.Cookies))
	return nil
}

// terminalSource reads the cookie string without echo when stdin is a
// terminal, and falls back to a plain line read otherwise.
type terminalSource struct {
	in  *os.File
	out io.Writer
}

func newTerminalSource(in *os.File, out io.Writer) *terminalSource {
	return &terminalSource{in: in, out: out}
}

func (s *terminalSource) Cookies(ctx context.Context) (string, error) {
	fd := int(s.in.Fd())
	if !term.IsTerminal(fd) {
		return cookies.NewPromptSource(bufio.NewReader(s.in), s.out).Cookies(ctx)
	}
	fmt.Fprint(s.out, "Enter your cookies: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", errors.New("no cookies entered")
	}
	return value, nil
}
