// Package gateway is the chat-bot front end: it turns Telegram commands
// into pipeline runs and reports the outcome back to the operator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	goaway "github.com/TwiN/go-away"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"inkwell/internal/inkwell"
	"inkwell/internal/pipeline"
)

const helpText = `Commands:
/auto [n] - draft up to n posts (default %d) from the configured feeds
/blog <topic> | <instruction> - draft one post on the topic; instruction is optional
/help - this message`

// Runner is the slice of the pipeline driver the gateway needs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Gateway long-polls Telegram for operator commands.
type Gateway struct {
	bot          *tgbotapi.BotAPI
	runner       Runner
	defaultCount int
}

func New(bot *tgbotapi.BotAPI, runner Runner, defaultCount int) *Gateway {
	return &Gateway{
		bot:          bot,
		runner:       runner,
		defaultCount: defaultCount,
	}
}

// RegisterCommands declares the recognized command set to the bot platform.
func (g *Gateway) RegisterCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "auto", Description: "Draft posts from the configured feeds"},
		tgbotapi.BotCommand{Command: "blog", Description: "Draft one post on a given topic"},
		tgbotapi.BotCommand{Command: "help", Description: "Show usage"},
	)
	if _, err := g.bot.Request(cfg); err != nil {
		return fmt.Errorf("error registering bot commands: %w", err)
	}

	return nil
}

// Run polls for updates until the context is done.
//
// Each command is dispatched on its own goroutine so a long pipeline run
// doesn't stall the poller; the driver's single-flight gate answers any
// overlapping command with busy.
func (g *Gateway) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := g.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			g.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || !msg.IsCommand() {
				continue
			}

			go func() {
				reply := g.dispatch(ctx, msg.Command(), msg.CommandArguments(), operatorID(msg))
				g.send(msg.Chat.ID, reply)
			}()
		}
	}
}

// dispatch resolves one operator command to its final reply text, running
// the pipeline when asked to. It blocks for the duration of the run.
func (g *Gateway) dispatch(ctx context.Context, command, args, operator string) string {
	switch command {
	case "help", "start":
		return fmt.Sprintf(helpText, g.defaultCount)

	case "auto":
		count, err := parseAutoCount(args, g.defaultCount)
		if err != nil {
			return err.Error()
		}

		return g.report(g.runner.Run(ctx, pipeline.Request{
			RequestedBy: operator,
			Mode:        inkwell.ModeAuto,
			Count:       count,
		}))

	case "blog":
		topic, instruction, err := parseBlogArgs(args)
		if err != nil {
			return err.Error()
		}

		return g.report(g.runner.Run(ctx, pipeline.Request{
			RequestedBy: operator,
			Mode:        inkwell.ModeManual,
			Topic:       topic,
			Instruction: instruction,
		}))

	default:
		return fmt.Sprintf("unknown command /%s, try /help", command)
	}
}

func (g *Gateway) report(res pipeline.Result) string {
	if errors.Is(res.Err, pipeline.ErrBusy) {
		return "busy: a run is already in progress, try again when it finishes"
	}

	return res.Summary()
}

func (g *Gateway) send(chatID int64, text string) {
	if _, err := g.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Error("error sending telegram reply", "error", err)
	}
}

func operatorID(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "unknown"
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}

	return strconv.FormatInt(msg.From.ID, 10)
}

// parseAutoCount reads the optional count argument of /auto.
func parseAutoCount(args string, fallback int) (int, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return fallback, nil
	}

	count, err := strconv.Atoi(args)
	if err != nil || count < 1 {
		return 0, fmt.Errorf("usage: /auto [n] where n is a positive number")
	}

	return count, nil
}

// parseBlogArgs splits "/blog <topic> | <instruction>" and prechecks the
// operator-supplied text before it goes anywhere near the model.
func parseBlogArgs(args string) (topic, instruction string, err error) {
	topic, instruction, _ = strings.Cut(args, "|")
	topic = strings.TrimSpace(topic)
	instruction = strings.TrimSpace(instruction)

	if topic == "" {
		return "", "", fmt.Errorf("usage: /blog <topic> | <instruction>")
	}
	if goaway.IsProfane(topic) || goaway.IsProfane(instruction) {
		return "", "", fmt.Errorf("that topic didn't pass the content check")
	}

	return topic, instruction, nil
}
