// Package domain contains core concepts of the relay.
// This file defines the wire Envelope and its closed kind set.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Kind discriminates envelope routing behavior.
type Kind string

const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindMsg         Kind = "msg"
	KindPrivateMsg  Kind = "pmsg"
	KindStartTyping Kind = "start_typing"
	KindStopTyping  Kind = "stop_typing"
	KindSystem      Kind = "sys"
	KindUserList    Kind = "userlist"
)

// Senders used for server-originated envelopes.
const (
	SystemSender = "System"
	ServerSender = "Server"
)

// Envelope is one routed message unit. Field names and casing are the wire
// contract and must not change.
type Envelope struct {
	Type    Kind   `json:"Type"`
	FromUID string `json:"FromUID"`
	From    string `json:"From"`
	To      string `json:"To"`
	Text    string `json:"Text"`
	Ts      int64  `json:"Ts"`
}

// Stamp sets the authoritative server timestamp. Client-sent values are
// never kept on outbound envelopes.
func (e Envelope) Stamp(at time.Time) Envelope {
	e.Ts = at.UTC().Unix()
	return e
}

// SystemNotice builds a broadcastable server notice.
func SystemNotice(text string) Envelope {
	return Envelope{Type: KindSystem, From: SystemSender, Text: text}
}

// UserList builds a presence broadcast whose Text carries the serialized
// presence payload.
func UserList(payload string) Envelope {
	return Envelope{Type: KindUserList, From: ServerSender, Text: payload}
}
