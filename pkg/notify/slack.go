package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/smartbi/analyst/pkg/enginerr"
)

const slackPostTimeout = 10 * time.Second

// SlackNotifier posts alert messages to one channel through the
// slack-go SDK.
type SlackNotifier struct {
	api     *goslack.Client
	channel string
	log     *slog.Logger
}

// NewSlackNotifier creates the Slack channel for a bot token.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     goslack.New(token),
		channel: channel,
		log:     slog.With("component", "slack-notifier"),
	}
}

// NewSlackNotifierWithAPIURL targets a custom API URL. Useful for
// testing against a mock server.
func NewSlackNotifierWithAPIURL(token, channel, apiURL string) *SlackNotifier {
	n := NewSlackNotifier(token, channel)
	n.api = goslack.New(token, goslack.OptionAPIURL(apiURL))
	return n
}

// Channel identifies this transport on notification records.
func (n *SlackNotifier) Channel() string { return "slack" }

// Send posts the message as a header plus body section.
func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	if n.channel == "" {
		return enginerr.New(enginerr.KindValidation, "slack channel not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, slackPostTimeout)
	defer cancel()

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "*"+msg.Subject+"*", false, false),
			nil, nil),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, msg.Body, false, false),
			nil, nil),
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	n.log.Info("Slack message posted", "channel", n.channel, "subject", msg.Subject)
	return nil
}
