package httptransport

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"deaddrop/backend/internal/auth"
	"deaddrop/backend/internal/domain"
	"deaddrop/backend/internal/service"
)

type createMailboxRequest struct {
	PollToken *string `json:"poll_token"`
}

type limitsResponse struct {
	MaxMsgBytes   int   `json:"max_msg_bytes"`
	MaxQueueBytes int64 `json:"max_queue_bytes"`
	TTLDays       int64 `json:"ttl_days"`
}

type createMailboxResponse struct {
	MailboxID string         `json:"mailbox_id"`
	PollToken string         `json:"poll_token,omitempty"`
	Limits    limitsResponse `json:"limits"`
}

type registerDepositTokensRequest struct {
	DepositTokens []string `json:"deposit_tokens"`
}

type registerDepositTokensResponse struct {
	Added              int64    `json:"added"`
	DepositTokenHashes []string `json:"deposit_token_hashes"`
}

type revokeRequest struct {
	DepositTokenHashes []string `json:"deposit_token_hashes"`
}

type revokeResponse struct {
	Revoked int64 `json:"revoked"`
}

type depositResponse struct {
	Stored    bool   `json:"stored"`
	MsgID     string `json:"msg_id"`
	ExpiresAt int64  `json:"expires_at"`
}

type pollMessage struct {
	MsgID      string `json:"msg_id"`
	ReceivedAt int64  `json:"received_at"`
	ExpiresAt  int64  `json:"expires_at"`
	// BlobB64 标准 base64（带填充），与 ID 使用的 base64url 不同
	BlobB64 string `json:"blob_b64"`
}

type pollResponse struct {
	Cursor   string        `json:"cursor"`
	Messages []pollMessage `json:"messages"`
}

type ackRequest struct {
	MsgIDs []string `json:"msg_ids"`
}

type ackResponse struct {
	Deleted int64 `json:"deleted"`
}

func toLimitsResponse(l service.Limits) limitsResponse {
	return limitsResponse{
		MaxMsgBytes:   l.MaxMsgBytes,
		MaxQueueBytes: l.MaxQueueBytes,
		TTLDays:       l.TTLDays,
	}
}

func toPollResponse(res *service.PollResult) pollResponse {
	msgs := make([]pollMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		msgs = append(msgs, toPollMessage(m))
	}
	return pollResponse{Cursor: res.Cursor, Messages: msgs}
}

func toPollMessage(m domain.Message) pollMessage {
	return pollMessage{
		MsgID:      auth.Encode(m.MsgID),
		ReceivedAt: m.ReceivedAt,
		ExpiresAt:  m.ExpiresAt,
		BlobB64:    base64.StdEncoding.EncodeToString(m.Blob),
	}
}

// ok 成功响应，直接输出对象本身
func ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
