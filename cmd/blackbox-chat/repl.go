package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/usecase"
)

type chatter interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	History(ctx context.Context, conversationID string) ([]conversation.Message, error)
	ClearHistory(ctx context.Context, conversationID string) error
	List(ctx context.Context) ([]usecase.ConversationSummary, error)
}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const replHelp = `commands:
  /new             start a new conversation
  /clear           clear this conversation's history
  /history         print this conversation
  /list            list stored conversations
  /model <id>      switch model
  /image <path>    attach an image to the next question
  /exit            quit`

type repl struct {
	chat chatter
	out  io.Writer

	chatID    string
	model     string
	image     string
	webSearch bool
}

func newREPL(chat chatter, out io.Writer) *repl {
	return &repl{chat: chat, out: out}
}

// run reads questions from in until EOF, /exit or ctx is cancelled.
// Failed questions are reported and the loop continues.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	fmt.Fprintln(r.out, systemStyle.Render("type /help for commands"))
	for {
		fmt.Fprint(r.out, userStyle.Render("you")+"> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.ask(ctx, line); err != nil {
			r.printError(err)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, systemStyle.Render(replHelp))
	case "/new":
		r.chatID = ""
		fmt.Fprintln(r.out, systemStyle.Render("new conversation"))
	case "/clear":
		if r.chatID == "" {
			return false, nil
		}
		if err := r.chat.ClearHistory(ctx, r.chatID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, systemStyle.Render("history cleared"))
	case "/history":
		if r.chatID == "" {
			return false, nil
		}
		return false, r.printHistory(ctx)
	case "/list":
		return false, r.printList(ctx)
	case "/model":
		if arg == "" {
			return false, errors.New("usage: /model <id>")
		}
		r.model = arg
		fmt.Fprintln(r.out, systemStyle.Render("model: "+arg))
	case "/image":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		r.image = arg
		fmt.Fprintln(r.out, systemStyle.Render("image attached to the next question"))
	default:
		return false, fmt.Errorf("unknown command %q", name)
	}
	return false, nil
}

func (r *repl) ask(ctx context.Context, question string) error {
	out, err := r.chat.Ask(ctx, usecase.AskInput{
		Question:       question,
		ConversationID: r.chatID,
		Model:          r.model,
		Image:          r.image,
		WebSearch:      r.webSearch,
	})
	if err != nil {
		return err
	}
	r.chatID = out.ConversationID
	r.image = ""
	fmt.Fprintf(r.out, "%s> %s\n", assistantStyle.Render("assistant"), out.Answer)
	return nil
}

func (r *repl) printHistory(ctx context.Context) error {
	msgs, err := r.chat.History(ctx, r.chatID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		label := userStyle.Render(string(m.Role))
		if m.Role == conversation.RoleAssistant {
			label = assistantStyle.Render(string(m.Role))
		}
		line := fmt.Sprintf("%s %s> %s", systemStyle.Render(m.CreatedAt.Format("15:04:05")), label, m.Content)
		if m.Image != "" {
			line += systemStyle.Render(" [image]")
		}
		fmt.Fprintln(r.out, line)
	}
	return nil
}

func (r *repl) printList(ctx context.Context) error {
	all, err := r.chat.List(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(r.out, systemStyle.Render("no conversations"))
		return nil
	}
	for _, s := range all {
		fmt.Fprintf(r.out, "%s  %3d messages  updated %s\n", s.ID, s.MessageCount, s.LastUpdated.Format("2006-01-02 15:04"))
	}
	return nil
}

func (r *repl) printError(err error) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("error: %s (%s)", ucErr.Code, ucErr.Reason)))
		return
	}
	fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
}
