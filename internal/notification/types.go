package notification

import (
	"time"
)

// DocumentSummary is the document metadata quoted in an email
type DocumentSummary struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	Reference   string `json:"reference"`
	Hash        string `json:"hash"`
	HashShort   string `json:"hash_short"`
	Supersedes  string `json:"supersedes,omitempty"`
	IssuedAt    string `json:"issued_at"`
	Provisional bool   `json:"provisional,omitempty"`
}

// Links are the authority URLs included in an email
type Links struct {
	Resume string `json:"resume"`
	Verify string `json:"verify"`
	Print  string `json:"print"`
}

// MailRequest is handed to the mail sender. This service only builds it;
// delivery belongs to the provider.
type MailRequest struct {
	ID       string          `json:"id"`
	To       string          `json:"to"`
	Subject  string          `json:"subject"`
	Document DocumentSummary `json:"document_meta"`
	Links    Links           `json:"links"`

	CreatedAt time.Time `json:"created_at"`
}

// SendResult is the mail sender's answer
type SendResult struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Stats counts dispatch outcomes
type Stats struct {
	TotalSent   int64            `json:"total_sent"`
	TotalFailed int64            `json:"total_failed"`
	ByProvider  map[string]int64 `json:"by_provider"`
}
