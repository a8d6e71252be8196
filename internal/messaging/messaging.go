// Package messaging dispatches a finished analysis report to its
// downstream sinks: a threaded Slack post and a mobile push notification.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"argus/internal/core"
	"argus/internal/logger"
)

// Report is the subset of the analysis report a notification needs; the
// full JSON document is what actually gets posted/uploaded, this is just
// what the sinks read back out of it to build message text.
type Report struct {
	ArticleID       int64
	Topic           string
	Title           string
	URL             string
	Summary         string
	TinySummary     string
	CriticalAnalysis string
	LogicalFallacies string
	SourceAnalysis  string
	RelationToTopic string
	Model           string
	ElapsedTime     float64
}

// SlackSink posts a two-message thread (headline, then detail blocks) to
// the channel configured for the report's topic, mirroring the original
// implementation's send_to_slack shape.
type SlackSink struct {
	client          *slack.Client
	defaultChannel  string
	topicChannels   map[string]string
}

// NewSlackSink builds a sink bound to token, routing by the topic->channel
// map built from config.Topic entries, falling back to defaultChannel for
// any topic with no channel of its own (including "Alert"/"Test").
func NewSlackSink(token, defaultChannel string, topicChannels map[string]string) *SlackSink {
	return &SlackSink{
		client:         slack.New(token),
		defaultChannel: defaultChannel,
		topicChannels:  topicChannels,
	}
}

// Post sends r to Slack. Failures are logged, not returned - a dropped
// Slack post must never fail the analysis pipeline that produced the
// report it describes.
func (s *SlackSink) Post(ctx context.Context, r Report) {
	channel := s.topicChannels[r.Topic]
	if channel == "" {
		channel = s.defaultChannel
	}
	if channel == "" {
		return
	}

	log := logger.Get().With().Str("topic", r.Topic).Str("channel", channel).Logger()

	headline := fmt.Sprintf("%s\n%s", r.Title, deduplicateMarkdown(r.TinySummary))
	_, ts, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionBlocks(slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, headline, false, false), nil, nil)),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to post slack headline")
		return
	}

	var blocks []slack.Block
	addSection := func(heading, body string) {
		if body == "" {
			return
		}
		text := fmt.Sprintf("*%s*\n%s", heading, deduplicateMarkdown(body))
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
		blocks = append(blocks, slack.NewDividerBlock())
	}
	if r.RelationToTopic != "" {
		addSection("Relevance", fmt.Sprintf("%s\n\n_Generated with %s in %.2f seconds._", r.RelationToTopic, r.Model, r.ElapsedTime))
	}
	addSection("Summary", r.Summary)
	addSection("Critical Analysis", r.CriticalAnalysis)
	addSection("Logical Fallacies", r.LogicalFallacies)
	addSection("Source Analysis", r.SourceAnalysis)
	if r.URL != "" {
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, r.URL, false, false), nil, nil))
	}
	if len(blocks) == 0 {
		return
	}

	if _, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionBlocks(blocks...), slack.MsgOptionTS(ts)); err != nil {
		log.Warn().Err(err).Msg("failed to post slack thread detail")
	}
}

// deduplicateMarkdown downgrades standard Markdown emphasis/heading syntax
// to what Slack's mrkdwn actually renders.
func deduplicateMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"**", "*",
		"__", "*",
		"### ", "*",
		"## ", "*",
		"# ", "*",
		"- ", "• ",
	)
	return replacer.Replace(text)
}

// Priority is the push-notification priority derived from the recipient's
// subscription.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// PushPayload is the body a push dispatch delivers to one device token.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Notifier pushes one payload to one device token at the given priority.
// No concrete push provider's token format survived distillation, so this
// is a plain authenticated HTTP POST - any provider fronted by a simple
// REST push gateway satisfies it.
type Notifier interface {
	Push(ctx context.Context, token string, priority Priority, payload PushPayload) error
}

// HTTPPusher implements Notifier as a bearer-authenticated POST against a
// single configured endpoint.
type HTTPPusher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPPusher builds a pusher bound to endpoint, authenticated with apiKey.
func NewHTTPPusher(endpoint, apiKey string) *HTTPPusher {
	return &HTTPPusher{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPPusher) Push(ctx context.Context, token string, priority Priority, payload PushPayload) error {
	body, err := json.Marshal(struct {
		Token    string      `json:"token"`
		Priority Priority    `json:"priority"`
		Payload  PushPayload `json:"payload"`
	}{Token: token, Priority: priority, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshaling push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// PriorityFor maps a device subscription's priority to a push Priority.
func PriorityFor(p core.SubscriptionPriority) Priority {
	if p == core.PriorityHigh {
		return PriorityHigh
	}
	return PriorityLow
}
