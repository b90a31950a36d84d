package adapter

import (
	"errors"
	"net"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "routinebot/internal/transport"
)

// classifyError wraps a telebot error in a DeliveryError carrying its reason.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	return &kit.DeliveryError{Reason: reasonOf(err), Err: err}
}

func reasonOf(err error) kit.Reason {
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound) {
		return kit.ReasonUnreachable
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.ReasonTransient
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403:
			return kit.ReasonUnreachable
		case apiErr.Code == 429, apiErr.Code >= 500:
			return kit.ReasonTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return kit.ReasonTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "bot was blocked"),
		strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "user is deactivated"),
		strings.Contains(msg, "forbidden"):
		return kit.ReasonUnreachable
	case strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "connection reset"):
		return kit.ReasonTransient
	}
	return kit.ReasonUnknown
}
