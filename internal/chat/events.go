package chat

import (
	"github.com/ent0n29/helpdesk/internal/i18n"
	"github.com/ent0n29/helpdesk/internal/protocol"
	"github.com/ent0n29/helpdesk/internal/session"
)

func chatMessageEvent(sessionID string, m session.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		SessionID: sessionID,
		ID:        m.ID,
		Seq:       m.Seq,
		Sender:    string(m.Sender),
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

func historyEvent(s session.Session) protocol.History {
	msgs := make([]protocol.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, chatMessageEvent(s.ID, m))
	}
	return protocol.History{
		Type:      protocol.TypeHistory,
		SessionID: s.ID,
		State:     string(s.State),
		Messages:  msgs,
	}
}

func stateEvent(s session.Session) protocol.SessionState {
	return protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: s.ID,
		State:     string(s.State),
		TicketID:  s.TicketID,
	}
}

func (o *Orchestrator) broadcastState(s session.Session) {
	o.presence.Broadcast(s.ID, stateEvent(s))
}

func (o *Orchestrator) transferEvent(s session.Session, pos int) protocol.TransferRequested {
	return protocol.TransferRequested{
		Type:      protocol.TypeTransferRequested,
		SessionID: s.ID,
		TicketID:  s.TicketID,
		Position:  pos,
		Text: o.catalog.T(s.Language, "chat.transferRequested", i18n.Params{
			"ticketId": s.TicketID,
			"position": pos,
		}),
	}
}

func (o *Orchestrator) queuePositionEvent(s session.Session, pos int) protocol.QueuePosition {
	return protocol.QueuePosition{
		Type:      protocol.TypeQueuePosition,
		SessionID: s.ID,
		Position:  pos,
		Text:      o.catalog.T(s.Language, "chat.queuePosition", i18n.Params{"position": pos}),
	}
}

func (o *Orchestrator) chatEndedEvent(s session.Session, reason string) protocol.ChatEnded {
	return protocol.ChatEnded{
		Type:      protocol.TypeChatEnded,
		SessionID: s.ID,
		Reason:    reason,
		Text:      o.catalog.T(s.Language, "chat.chatEnded", nil),
	}
}
