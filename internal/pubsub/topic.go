// Package pubsub turns store mutations into ordered snapshot streams.
//
// Every topic has one feed. A feed owns a single goroutine that reloads the
// topic snapshot whenever it is kicked and hands the result to each
// subscriber. Kicks that arrive while a load is running collapse into one
// more load, so subscribers see snapshots in commit order and always end on
// the latest state.
package pubsub

import (
	"strings"

	"github.com/google/uuid"
)

// Topic names a stream, "<kind>:<id>".
type Topic string

const (
	KindChannel  = "channel"
	KindTyping   = "typing"
	KindPresence = "presence"
	KindCalls    = "calls"
)

func ChannelTopic(channelID uuid.UUID) Topic  { return Topic(KindChannel + ":" + channelID.String()) }
func TypingTopic(channelID uuid.UUID) Topic   { return Topic(KindTyping + ":" + channelID.String()) }
func PresenceTopic(channelID uuid.UUID) Topic { return Topic(KindPresence + ":" + channelID.String()) }
func CallsTopic(userID uuid.UUID) Topic       { return Topic(KindCalls + ":" + userID.String()) }

// Kind returns the part before the colon.
func (t Topic) Kind() string {
	kind, _, _ := strings.Cut(string(t), ":")
	return kind
}
