package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Handler applies one policy type to an inbound message.
type Handler interface {
	Handle(ctx context.Context, b Binding, msg Message) (Decision, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, b Binding, msg Message) (Decision, error)

func (f HandlerFunc) Handle(ctx context.Context, b Binding, msg Message) (Decision, error) {
	return f(ctx, b, msg)
}

func openHandler(context.Context, Binding, Message) (Decision, error) {
	return deliver("open channel"), nil
}

func privateHandler(_ context.Context, b Binding, msg Message) (Decision, error) {
	if len(b.Policy.AllowedSenders) == 0 {
		return drop("no allowed senders configured"), nil
	}
	for _, sender := range b.Policy.AllowedSenders {
		if sender == msg.SenderID {
			return deliver("sender allowed"), nil
		}
	}
	return drop("sender not allowed"), nil
}

func monitorHandler(context.Context, Binding, Message) (Decision, error) {
	return Decision{Action: ActionObserve, Reason: "monitor only"}, nil
}

func broadcastHandler(context.Context, Binding, Message) (Decision, error) {
	return drop("broadcast binding is outbound only"), nil
}

// filterHandler drops messages hitting a block rule and, when allow rules
// exist, delivers only messages matching one of them. Matching ignores case.
type filterHandler struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newFilterHandler() *filterHandler {
	return &filterHandler{cache: make(map[string]*regexp.Regexp)}
}

func (h *filterHandler) compile(pattern string) (*regexp.Regexp, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if re, ok := h.cache[pattern]; ok {
		return re, nil
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	h.cache[pattern] = re
	return re, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrValidation, pattern, err)
	}
	return re, nil
}

func (h *filterHandler) Handle(_ context.Context, b Binding, msg Message) (Decision, error) {
	text := strings.ToLower(msg.Text)

	for _, keyword := range b.Policy.BlockKeywords {
		if keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
			return drop(fmt.Sprintf("blocked keyword %q", keyword)), nil
		}
	}
	for _, pattern := range b.Policy.BlockPatterns {
		re, err := h.compile(pattern)
		if err != nil {
			return Decision{}, err
		}
		if re.MatchString(msg.Text) {
			return drop(fmt.Sprintf("blocked pattern %q", pattern)), nil
		}
	}

	if len(b.Policy.Keywords) == 0 && len(b.Policy.Patterns) == 0 {
		return deliver("no filter rules matched"), nil
	}
	for _, keyword := range b.Policy.Keywords {
		if keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
			return deliver(fmt.Sprintf("matched keyword %q", keyword)), nil
		}
	}
	for _, pattern := range b.Policy.Patterns {
		re, err := h.compile(pattern)
		if err != nil {
			return Decision{}, err
		}
		if re.MatchString(msg.Text) {
			return deliver(fmt.Sprintf("matched pattern %q", pattern)), nil
		}
	}
	return drop("no keyword or pattern matched"), nil
}

func validatePolicy(p Policy) error {
	if !IsValidPolicyType(p.Type) {
		return fmt.Errorf("%w: unknown policy type %q", ErrValidation, p.Type)
	}
	for _, pattern := range append(append([]string(nil), p.Patterns...), p.BlockPatterns...) {
		if _, err := compilePattern(pattern); err != nil {
			return err
		}
	}
	switch p.DefaultAction {
	case "", VerdictApprove, VerdictReject:
	default:
		return fmt.Errorf("%w: unknown default action %q", ErrValidation, p.DefaultAction)
	}
	if p.ModerationTimeout < 0 {
		return fmt.Errorf("%w: moderation timeout must not be negative", ErrValidation)
	}
	return nil
}
