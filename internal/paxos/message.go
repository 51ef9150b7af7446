package paxos

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// MessageType tags the wire envelope so the receiver can fan a decoded
// Message out to every role handler registered for that variant.
type MessageType int

const (
	InvalidMessage MessageType = iota
	RequestMessage
	PrepareMessage
	PromiseMessage
	NackTieMessage
	AcceptMessage
	NackMessage
	AcceptedMessage
	ResumeMessage
	UpdateMessage
	UpdatedMessage
)

func (t MessageType) String() string {
	switch t {
	case RequestMessage:
		return "RequestMessage"
	case PrepareMessage:
		return "PrepareMessage"
	case PromiseMessage:
		return "PromiseMessage"
	case NackTieMessage:
		return "NackTieMessage"
	case AcceptMessage:
		return "AcceptMessage"
	case NackMessage:
		return "NackMessage"
	case AcceptedMessage:
		return "AcceptedMessage"
	case ResumeMessage:
		return "ResumeMessage"
	case UpdateMessage:
		return "UpdateMessage"
	case UpdatedMessage:
		return "UpdatedMessage"
	default:
		return "InvalidMessage"
	}
}

// Message is the single wire envelope shared by every role: every TCP
// connection carries exactly one of these, gob-encoded, with end-of-
// message being end-of-stream.
type Message struct {
	From   Replica
	To     Replica
	Type   MessageType
	Decree Decree
}

// GetFrom returns the sending replica, mirroring the accessor the
// teacher's per-type message structs each carried.
func (m Message) GetFrom() Replica {
	return m.From
}

// Encode serializes m using the self-describing gob archive format, as
// the wire protocol requires.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errors.Wrap(err, "paxos: encode message")
	}
	return buf.Bytes(), nil
}

// Decode deserializes a Message previously produced by Encode.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&m); err != nil {
		return Message{}, errors.Wrap(err, "paxos: decode message")
	}
	return m, nil
}
