package agent

import (
	"fmt"
	"strings"

	"rebeca/internal/domain"
)

// Normalize converts either inbound shape into a validated Message.
// Bot-authored raw events return domain.ErrBotOrigin; missing or blank
// fields return a *domain.ValidationError naming each of them.
func Normalize(in domain.Inbound) (domain.Message, error) {
	var msg domain.Message

	switch v := in.(type) {
	case domain.RawEvent:
		if v.FromBot() {
			return domain.Message{}, domain.ErrBotOrigin
		}
		msg = domain.Message{
			Content:   v.Text(),
			Author:    v.User(),
			Channel:   v.Channel(),
			Timestamp: v.Timestamp(),
		}
	case domain.Message:
		msg = v
	case *domain.Message:
		if v != nil {
			msg = *v
		}
	case nil:
		return domain.Message{}, &domain.ValidationError{Fields: []string{"content", "author", "channel", "timestamp"}}
	default:
		return domain.Message{}, fmt.Errorf("unsupported inbound type %T", in)
	}

	var missing []string
	if strings.TrimSpace(msg.Content) == "" {
		missing = append(missing, "content")
	}
	if strings.TrimSpace(msg.Author) == "" {
		missing = append(missing, "author")
	}
	if strings.TrimSpace(msg.Channel) == "" {
		missing = append(missing, "channel")
	}
	if strings.TrimSpace(msg.Timestamp) == "" {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return domain.Message{}, &domain.ValidationError{Fields: missing}
	}
	return msg, nil
}
