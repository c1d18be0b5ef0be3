package ws

import (
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
)

// ApprovalListener forwards approval lifecycle events to the hub. Each
// approver also gets the event on its agent topic.
func ApprovalListener(h *Hub) func(approval.Event) {
	return func(evt approval.Event) {
		var kind EventType
		switch evt.Kind {
		case approval.EventCreated:
			kind = EventApprovalCreated
		case approval.EventDecided:
			kind = EventApprovalDecided
		case approval.EventResolved:
			kind = EventApprovalResolved
		default:
			return
		}
		extra := []string{AgentTopic(evt.Request.RequesterID)}
		for _, approver := range evt.Request.Approvers {
			extra = append(extra, AgentTopic(approver))
		}
		h.Publish(kind, TopicApprovals, evt.Request, extra...)
	}
}

// ChannelListener forwards routing and moderation events to the hub.
func ChannelListener(h *Hub) func(channels.Event) {
	return func(evt channels.Event) {
		switch evt.Kind {
		case channels.EventMessageRouted:
			if evt.Message == nil || evt.Decision == nil {
				return
			}
			h.Publish(EventMessageRouted, TopicMessages, routedMessage{
				Message:  *evt.Message,
				Decision: *evt.Decision,
			}, AgentTopic(evt.Decision.AgentID))
		case channels.EventModerationQueued:
			if evt.Pending == nil {
				return
			}
			h.Publish(EventModerationQueued, TopicModeration, evt.Pending, AgentTopic(evt.Pending.AgentID))
		case channels.EventModerationResolved:
			if evt.Resolution == nil {
				return
			}
			h.Publish(EventModerationResolved, TopicModeration, evt.Resolution, AgentTopic(evt.Resolution.Pending.AgentID))
		}
	}
}

type routedMessage struct {
	Message  channels.Message  `json:"message"`
	Decision channels.Decision `json:"decision"`
}
