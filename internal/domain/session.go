package domain

import "time"

// Session statuses. Resolved, escalated and exited are terminal.
const (
	SessionActive        = "active"
	SessionWaitingOnUser = "waiting_on_user"
	SessionResolved      = "resolved"
	SessionEscalated     = "escalated"
	SessionExited        = "exited"
)

// IsTerminalStatus reports whether status is a terminal session status.
func IsTerminalStatus(status string) bool {
	switch status {
	case SessionResolved, SessionEscalated, SessionExited:
		return true
	}
	return false
}

// Chat message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// ChatSession is one support conversation. It owns a case id and the
// encoded conversation state, and is transitioned (never deleted) until it
// reaches a terminal status.
type ChatSession struct {
	SessionID string    `json:"session_id" gorm:"column:session_id;type:varchar(32);primaryKey"`
	CaseID    string    `json:"case_id"    gorm:"column:case_id;type:varchar(32);not null;uniqueIndex:ux_chat_sessions_case_id"`
	State     JSON      `json:"state"      gorm:"column:state;not null"`
	Status    string    `json:"status"     gorm:"column:status;type:varchar(20);not null;index;check:status IN ('active','waiting_on_user','resolved','escalated','exited')"`
	Version   int64     `json:"version"    gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null"`

	Messages []ChatMessage `json:"-" gorm:"foreignKey:SessionID;references:SessionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// ChatMessage is an append-only transcript entry, ordered by creation time
// within a session.
type ChatMessage struct {
	ID        uint64    `json:"id"         gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"column:session_id;type:varchar(32);not null;index:idx_chat_messages_session,priority:1"`
	Role      string    `json:"role"       gorm:"column:role;type:varchar(16);not null;check:role IN ('user','agent','system')"`
	Content   string    `json:"content"    gorm:"column:content;type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null;index:idx_chat_messages_session,priority:2"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// ToolCallLog is the append-only audit row written for every tool
// invocation, successful or not.
type ToolCallLog struct {
	ID              uint64    `json:"id"                         gorm:"column:id;primaryKey;autoIncrement"`
	ToolName        string    `json:"tool_name"                  gorm:"column:tool_name;type:varchar(64);not null;index"`
	RequestPayload  JSON      `json:"request_payload"            gorm:"column:request_payload;not null"`
	ResponsePayload JSON      `json:"response_payload,omitempty" gorm:"column:response_payload"`
	ErrorMessage    *string   `json:"error_message,omitempty"    gorm:"column:error_message;type:text"`
	LatencyMS       int64     `json:"latency_ms"                 gorm:"column:latency_ms;not null"`
	CreatedAt       time.Time `json:"created_at"                 gorm:"column:created_at;not null;index"`
}

// TableName returns the database table name for ToolCallLog.
func (ToolCallLog) TableName() string { return "tool_call_logs" }
