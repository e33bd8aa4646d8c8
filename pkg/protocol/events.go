package protocol

// WebSocket event names pushed to tenant-scoped observers.
const (
	// EventMessageProcessing is the interim state emitted before a routing
	// decision is made. Purely cosmetic for observers; never load-bearing.
	EventMessageProcessing = "message.processing"

	// EventMessagePending is the instant-echo preview emitted before the
	// record is durable. Payload carries is_pending=true.
	EventMessagePending = "message.pending"

	// EventMessageCreated confirms a durable record and supersedes a prior
	// pending preview with the same preview_id.
	EventMessageCreated = "message.created"

	// EventConversationUpdated notifies observers that a conversation's
	// list entry changed (preview, last message).
	EventConversationUpdated = "conversation.updated"

	EventShutdown = "shutdown"
)
