// blackbox-chat is an interactive terminal client for the chat endpoint.
//
// With no arguments it starts a prompt loop on the selected conversation.
// A question given as arguments is asked once and the answer printed.
// --list, --history, --clear and --delete manage stored conversations, and
// --publish-cookies-param copies the local cookie jar into SSM Parameter
// Store for the Lambda deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"blackbox-agent/internal/config"
)

type flags struct {
	configPath string
	cookies    string
	tokenCache string
	backend    string
	boltPath   string
	async      bool
	chatID     string
	model      string
	image      string
	webSearch  bool
	noHistory  bool
	verbose    bool

	list    bool
	history bool
	clear   bool
	delete  bool

	publishParam string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var f flags
	flagSet := pflag.NewFlagSet("blackbox-chat", pflag.ContinueOnError)
	flagSet.StringVarP(&f.configPath, "config", "c", os.Getenv("BLACKBOX_CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&f.cookies, "cookies", "", "cookie file (overrides paths.cookies)")
	flagSet.StringVar(&f.tokenCache, "token-cache", "", "token cache file (overrides paths.token_cache)")
	flagSet.StringVar(&f.backend, "backend", "", "conversation backend: memory or bolt")
	flagSet.StringVar(&f.boltPath, "bolt-path", "", "bolt database file (overrides paths.bolt)")
	flagSet.BoolVar(&f.async, "async", false, "run the backend behind the asynchronous adapter")
	flagSet.StringVar(&f.chatID, "chat-id", "", "conversation id (default: a new conversation)")
	flagSet.StringVarP(&f.model, "model", "m", "", "model id")
	flagSet.StringVarP(&f.image, "image", "i", "", "image file or data URI attached to the first question")
	flagSet.BoolVar(&f.webSearch, "web-search", false, "let the model search the web")
	flagSet.BoolVar(&f.noHistory, "no-history", false, "do not send earlier messages with each question")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolVar(&f.list, "list", false, "list stored conversations")
	flagSet.BoolVar(&f.history, "history", false, "print the history of --chat-id")
	flagSet.BoolVar(&f.clear, "clear", false, "clear the history of --chat-id")
	flagSet.BoolVar(&f.delete, "delete", false, "delete the conversation --chat-id")
	flagSet.StringVar(&f.publishParam, "publish-cookies-param", "", "write the cookie header to this SSM parameter and exit")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(f.verbose)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	source := newTerminalSource(os.Stdin, os.Stderr)

	if f.publishParam != "" {
		return publishCookies(ctx, cfg, source, f.publishParam, logger)
	}

	a, err := newApp(ctx, cfg, source, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	r := newREPL(a.chat, os.Stdout)
	r.chatID = f.chatID
	r.image = f.image
	r.model = cfg.Chat.Model
	r.webSearch = cfg.Chat.WebSearch

	needsID := f.history || f.clear || f.delete
	if needsID && f.chatID == "" {
		return errors.New("--history, --clear and --delete need --chat-id")
	}
	switch {
	case f.list:
		return r.printList(ctx)
	case f.history:
		return r.printHistory(ctx)
	case f.clear:
		return a.chat.ClearHistory(ctx, f.chatID)
	case f.delete:
		return a.chat.Delete(ctx, f.chatID)
	}

	if question := strings.TrimSpace(strings.Join(flagSet.Args(), " ")); question != "" {
		return r.ask(ctx, question)
	}
	return r.run(ctx, os.Stdin)
}

// apply layers command-line overrides on top of the loaded configuration.
func (f flags) apply(cfg *config.Config) {
	if f.cookies != "" {
		cfg.Paths.Cookies = f.cookies
	}
	if f.tokenCache != "" {
		cfg.Paths.TokenCache = f.tokenCache
	}
	if f.boltPath != "" {
		cfg.Paths.Bolt = f.boltPath
	}
	if f.backend != "" {
		cfg.Storage.Backend = config.Backend(f.backend)
	}
	if f.async {
		cfg.Storage.Async = true
	}
	if f.model != "" {
		cfg.Chat.Model = f.model
	}
	if f.webSearch {
		cfg.Chat.WebSearch = true
	}
	if f.noHistory {
		cfg.Chat.History = false
	}
}
