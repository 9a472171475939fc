package domain

// ConversationKey identifies the consultation a symptom record was produced
// by. A subject owns at most one record per conversation.
type ConversationKey struct {
	OwnerID        string
	ConversationID string
}

// Valid reports whether both parts of the key are set.
func (k ConversationKey) Valid() bool {
	return k.OwnerID != "" && k.ConversationID != ""
}
