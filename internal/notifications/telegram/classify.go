package telegram

import (
	"errors"
	"strings"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// Classification is the outcome of matching a send failure against the
// deactivation rules.
type Classification struct {
	Type   domain.DeactivationType
	Reason string
}

type classificationRule struct {
	needles        []string
	classification Classification
}

// classificationRules are evaluated in order; the first match wins.
// The order matters: "403 Forbidden: bot was kicked" is a block, not a kick.
var classificationRules = []classificationRule{
	{
		needles:        []string{"forbidden", "blocked", "403"},
		classification: Classification{Type: domain.DeactivationBlockedByUser, Reason: "User blocked the bot"},
	},
	{
		needles:        []string{"chat not found", "400", "bad request"},
		classification: Classification{Type: domain.DeactivationChatNotFound, Reason: "Chat not found"},
	},
	{
		needles:        []string{"kicked"},
		classification: Classification{Type: domain.DeactivationBotKicked, Reason: "Bot was kicked from the chat"},
	},
	{
		needles:        []string{"deactivated"},
		classification: Classification{Type: domain.DeactivationUserDeactivated, Reason: "User account is deactivated"},
	},
}

// Classify maps a send failure to a recipient deactivation. The second
// result is false for failures that leave the recipient active, such as
// timeouts, server errors and rate limiting.
func Classify(err error) (Classification, bool) {
	if err == nil {
		return Classification{}, false
	}
	// A rate limit response may mention anything in its description.
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return Classification{}, false
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage applies the rules to an error message.
func ClassifyMessage(msg string) (Classification, bool) {
	lower := strings.ToLower(msg)
	for _, rule := range classificationRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.classification, true
			}
		}
	}
	return Classification{}, false
}
