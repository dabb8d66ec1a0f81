package httpapi

// sendMessageRequest is the POST /api/chats/message body.
// Deeper checks (unknown users, membership, text length) belong to the
// chat core; validation here only rejects structurally bad requests.
type sendMessageRequest struct {
	SenderID   int64  `json:"sender_id" validate:"required,gt=0"`
	ReceiverID int64  `json:"receiver_id" validate:"required,gt=0,nefield=SenderID"`
	Text       string `json:"text" validate:"required"`
}
