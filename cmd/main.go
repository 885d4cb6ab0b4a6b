package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"blackbox-agent/handler"
	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/cookies"
	"blackbox-agent/internal/integrations/blackbox"
	"blackbox-agent/internal/integrations/paramstore"
	"blackbox-agent/internal/repository"
	"blackbox-agent/internal/scraper"
	"blackbox-agent/internal/token"
	"blackbox-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cookieParam := mustEnv("COOKIE_PARAM")
	stateTable := os.Getenv("STATE_TABLE")
	cookieFile := envOr("COOKIE_FILE", "/tmp/cookies.json")
	tokenCacheFile := envOr("TOKEN_CACHE_FILE", "/tmp/validated_cache.json")
	baseURL := envOr("BLACKBOX_BASE_URL", blackbox.DefaultBaseURL)
	systemPromptParam := os.Getenv("SYSTEM_PROMPT_PARAM")
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 4000)
	chatHistory := envBool("CHAT_HISTORY", true)
	httpTimeout := time.Duration(envInt("HTTP_TIMEOUT_SECONDS", 25)) * time.Second

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	cookieSource, err := cookies.NewParamSource(ssmClient, cookieParam)
	if err != nil {
		slog.Error("failed to create cookie source", "err", err)
		os.Exit(1)
	}
	jar, err := cookies.Load(ctx, cookieFile, cookieSource, time.Now)
	if err != nil {
		slog.Error("failed to load cookies", "err", err)
		os.Exit(1)
	}
	if err := jar.Validate(); err != nil {
		slog.Warn("cookie jar is incomplete", "err", err)
	}

	httpClient := &http.Client{Timeout: httpTimeout}
	extractor, err := scraper.New(baseURL,
		scraper.WithHTTPClient(httpClient),
		scraper.WithHeaders(blackbox.DefaultHeaders()),
		scraper.WithLogger(logger.With("component", "scraper")),
	)
	if err != nil {
		slog.Error("failed to create token scraper", "err", err)
		os.Exit(1)
	}
	tokens, err := token.NewCache(tokenCacheFile, extractor, token.WithLogger(logger.With("component", "token")))
	if err != nil {
		slog.Error("failed to create token cache", "err", err)
		os.Exit(1)
	}

	chatClient, err := blackbox.NewClient(jar.Header(), tokens,
		blackbox.WithBaseURL(baseURL),
		blackbox.WithHTTPClient(httpClient),
		blackbox.WithLogger(logger.With("component", "blackbox")),
	)
	if err != nil {
		slog.Error("failed to create chat client", "err", err)
		os.Exit(1)
	}

	// ---- Conversation store ----
	var backend conversation.Backend = conversation.NewMemoryBackend()
	if stateTable != "" {
		backend, err = repository.NewDynamo(awsdynamodb.NewFromConfig(cfg), stateTable)
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
	}
	store, err := conversation.NewStore(backend, conversation.WithLogger(logger.With("component", "conversation")))
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, chatClient,
		usecase.WithHistory(chatHistory),
		usecase.WithMaxQuestionLength(maxQuestionLen),
		usecase.WithSystemPromptParam(ssmClient, systemPromptParam),
		usecase.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, handler.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting", "backend", backend.Capability().String(), "state_table", stateTable != "", "history", chatHistory)
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
