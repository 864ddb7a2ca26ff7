package line

import (
	"fmt"
	"io"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// Outcome is the payload of one outbound send: either plain text or a list of
// pre-built platform messages (flex documents, quick-reply menus).
type Outcome struct {
	Text     string
	Messages []messaging_api.MessageInterface
}

// TextOutcome wraps a plain text reply.
func TextOutcome(text string) Outcome {
	return Outcome{Text: text}
}

// MessagesOutcome wraps pre-built platform messages.
func MessagesOutcome(msgs ...messaging_api.MessageInterface) Outcome {
	return Outcome{Messages: msgs}
}

func (o Outcome) messages() []messaging_api.MessageInterface {
	if len(o.Messages) > 0 {
		return o.Messages
	}
	return []messaging_api.MessageInterface{
		messaging_api.TextMessage{Text: o.Text},
	}
}

// Client wraps the two send primitives the platform offers: reply-by-token
// (single use, short-lived) and push-by-recipient (durable). It also exposes
// message content download for audio events.
type Client struct {
	api  *messaging_api.MessagingApiAPI
	blob *messaging_api.MessagingApiBlobAPI
}

// NewClient builds a messaging client from the channel access token.
func NewClient(channelToken string) (*Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging API client: %w", err)
	}
	blob, err := messaging_api.NewMessagingApiBlobAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging blob client: %w", err)
	}
	return &Client{api: api, blob: blob}, nil
}

// Reply sends via the reply token. The token is valid once; callers must not
// invoke Reply twice for the same event.
func (c *Client) Reply(replyToken string, out Outcome) error {
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   out.messages(),
	})
	if err != nil {
		return fmt.Errorf("reply send: %w", err)
	}
	return nil
}

// Push sends to a durable recipient identifier. Usable any number of times.
func (c *Client) Push(to string, out Outcome) error {
	_, err := c.api.PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: out.messages(),
	}, "")
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	return nil
}

// ShowLoading displays the typing indicator in the chat. Best effort.
func (c *Client) ShowLoading(chatID string) error {
	_, err := c.api.ShowLoadingAnimation(&messaging_api.ShowLoadingAnimationRequest{
		ChatId:         chatID,
		LoadingSeconds: 30,
	})
	if err != nil {
		return fmt.Errorf("show loading animation: %w", err)
	}
	return nil
}

// FetchContent streams the binary content behind a message id (audio clips).
// The caller owns the returned reader.
func (c *Client) FetchContent(messageID string) (io.ReadCloser, error) {
	resp, err := c.blob.GetMessageContent(messageID)
	if err != nil {
		return nil, fmt.Errorf("get message content %s: %w", messageID, err)
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, fmt.Errorf("get message content %s: status %d", messageID, resp.StatusCode)
	}
	return resp.Body, nil
}

// IsTokenInvalid reports whether a reply-send failure means the token was
// already spent or has expired, in which case the caller falls back to push.
func IsTokenInvalid(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid reply token") ||
		strings.Contains(msg, "expired reply token")
}

// LogSendFailure records a delivery failure without propagating it; delivery
// errors never reach the inbound HTTP path.
func LogSendFailure(component, kind, recipient string, err error) {
	logger.ErrorCF(component, "Send failed", map[string]interface{}{
		"kind":      kind,
		"recipient": recipient,
		"error":     err.Error(),
	})
}
