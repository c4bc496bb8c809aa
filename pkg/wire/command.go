package wire

import "fmt"

// Command is an outbound intent before it is stamped into an Envelope.
type Command struct {
	Type    string
	Payload any
}

// Build serializes the command into an envelope for the given tab.
func (c Command) Build(tabID string) (*Envelope, error) {
	return NewEnvelope(c.Type, c.Payload, tabID)
}

func (c Command) String() string {
	return fmt.Sprintf("%s %+v", c.Type, c.Payload)
}

// CheckAuth asks the server whether the connection is already authenticated.
func CheckAuth() Command {
	return Command{Type: TypeCheckAuth}
}

// Auth authenticates the connection with a bearer token.
func Auth(token string) Command {
	return Command{Type: TypeAuth, Payload: AuthPayload{Token: token}}
}

// Subscribe builds the subscribe command for a topic.
func Subscribe(t Topic) Command {
	typ, _ := subscribeTypes(t.Kind)
	return Command{Type: typ, Payload: topicPayload(t)}
}

// Unsubscribe builds the unsubscribe command for a topic.
func Unsubscribe(t Topic) Command {
	_, typ := subscribeTypes(t.Kind)
	return Command{Type: typ, Payload: topicPayload(t)}
}

// SQLAutocomplete asks for completions on behalf of an edit surface.
func SQLAutocomplete(p SQLAutocompletePayload) Command {
	return Command{Type: TypeSQLAutocomplete, Payload: p}
}

// StopStreamingGeneration stops the assistant answer streaming into a conversation.
func StopStreamingGeneration(projectID, botConversationID int64) Command {
	return Command{Type: TypeStopStreamingGeneration, Payload: StopStreamingPayload{
		ProjectID:         projectID,
		BotConversationID: botConversationID,
	}}
}

func subscribeTypes(kind TopicKind) (subscribe, unsubscribe string) {
	switch kind {
	case TopicProject:
		return TypeSubscribeProject, TypeUnsubscribeProject
	case TopicBotConversation:
		return TypeSubscribeBotConversation, TypeUnsubscribeBotConversation
	case TopicBatchTable:
		return TypeSubscribeBatchTable, TypeUnsubscribeBatchTable
	case TopicFile:
		return TypeSubscribeFile, TypeUnsubscribeFile
	}
	return "", ""
}

func topicPayload(t Topic) TopicPayload {
	var p TopicPayload
	switch t.Kind {
	case TopicProject:
		p.ProjectID = t.ID
	case TopicBotConversation:
		p.BotConversationID = t.ID
	case TopicBatchTable:
		p.BatchTableID = t.ID
	case TopicFile:
		p.FileID = t.ID
	}
	return p
}

// SubscriptionResponseTopic maps a subscribe/unsubscribe response type to the
// topic kind it answers and whether it answers a subscribe.
func SubscriptionResponseTopic(messageType string) (kind TopicKind, subscribe bool, ok bool) {
	switch messageType {
	case TypeSubscribeProjectResponse:
		return TopicProject, true, true
	case TypeUnsubscribeProjectResponse:
		return TopicProject, false, true
	case TypeSubscribeBotConversationResponse:
		return TopicBotConversation, true, true
	case TypeUnsubscribeBotConversationResponse:
		return TopicBotConversation, false, true
	case TypeSubscribeBatchTableResponse:
		return TopicBatchTable, true, true
	case TypeUnsubscribeBatchTableResponse:
		return TopicBatchTable, false, true
	case TypeSubscribeFileResponse:
		return TopicFile, true, true
	case TypeUnsubscribeFileResponse:
		return TopicFile, false, true
	}
	return "", false, false
}
