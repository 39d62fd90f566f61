package storage

import (
	"encoding/json"
	"time"
)

// AccountType is the kind of credential an account links to a customer.
type AccountType string

const (
	AccountEmail    AccountType = "email"
	AccountOAuth    AccountType = "oauth"
	AccountOIDC     AccountType = "oidc"
	AccountWebAuthn AccountType = "webauthn"
)

// AccountTypes returns every valid AccountType.
func AccountTypes() []string {
	return []string{string(AccountEmail), string(AccountOAuth), string(AccountOIDC), string(AccountWebAuthn)}
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountEmail, AccountOAuth, AccountOIDC, AccountWebAuthn:
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationPending  ConversationStatus = "pending"
)

// ConversationStatuses returns every valid ConversationStatus.
func ConversationStatuses() []string {
	return []string{string(ConversationActive), string(ConversationResolved), string(ConversationPending)}
}

func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationResolved, ConversationPending:
		return true
	}
	return false
}

// MessageRole identifies who wrote a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageRoles returns every valid MessageRole.
func MessageRoles() []string {
	return []string{string(RoleUser), string(RoleAssistant), string(RoleSystem)}
}

func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ArticleStatus is the publication state of a knowledge-base article.
type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "draft"
	ArticlePublished ArticleStatus = "published"
	ArticleArchived  ArticleStatus = "archived"
)

// ArticleStatuses returns every valid ArticleStatus.
func ArticleStatuses() []string {
	return []string{string(ArticleDraft), string(ArticlePublished), string(ArticleArchived)}
}

func (s ArticleStatus) Valid() bool {
	switch s {
	case ArticleDraft, ArticlePublished, ArticleArchived:
		return true
	}
	return false
}

type Customer struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	EmailVerified *time.Time      `json:"emailVerified"`
	Name          string          `json:"name"`
	Image         *string         `json:"image"`
	Metadata      json.RawMessage `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type Account struct {
	UserID            string      `json:"userId"`
	Type              AccountType `json:"type"`
	Provider          string      `json:"provider"`
	ProviderAccountID string      `json:"providerAccountId"`
	RefreshToken      *string     `json:"refresh_token"`
	AccessToken       *string     `json:"access_token"`
	ExpiresAt         *int64      `json:"expires_at"`
	TokenType         *string     `json:"token_type"`
	Scope             *string     `json:"scope"`
	IDToken           *string     `json:"id_token"`
	SessionState      *string     `json:"session_state"`
}

type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Conversation struct {
	ID         string             `json:"id"`
	CustomerID *string            `json:"customerId"`
	Status     ConversationStatus `json:"status"`
	Subject    *string            `json:"subject"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	ResolvedAt *time.Time         `json:"resolvedAt"`
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Content        string          `json:"content"`
	Role           MessageRole     `json:"role"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Metadata       json.RawMessage `json:"metadata"`
}

type KnowledgeBase struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	CategoryID *string         `json:"categoryId"`
	Status     ArticleStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Metadata   json.RawMessage `json:"metadata"`
}

type Feedback struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Rating         *int64    `json:"rating"`
	Comment        *string   `json:"comment"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Helpful        *bool     `json:"helpful"`
}
