package storage

import (
	"context"
	"database/sql"
)

var conversationModel = model[Conversation]{
	table:   TableConversation,
	columns: []string{"id", "customer_id", "status", "subject", "created_at", "updated_at", "resolved_at"},
	key:     []string{"id"},
	values: func(c *Conversation) []any {
		return []any{c.ID, c.CustomerID, string(c.Status), c.Subject,
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt), timeArg(c.ResolvedAt)}
	},
	scan: func(sc rowScanner) (Conversation, error) {
		var c Conversation
		var status string
		var customerID, subject, created, updated, resolved sql.NullString
		if err := sc.Scan(&c.ID, &customerID, &status, &subject, &created, &updated, &resolved); err != nil {
			return Conversation{}, err
		}
		var err error
		if c.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return Conversation{}, err
		}
		if c.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return Conversation{}, err
		}
		if c.ResolvedAt, err = optionalTime(resolved, "resolved_at"); err != nil {
			return Conversation{}, err
		}
		c.CustomerID = nullString(customerID)
		c.Status = ConversationStatus(status)
		c.Subject = nullString(subject)
		return c, nil
	},
}

// CreateConversation inserts c. An empty status defaults to active.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.Status == "" {
		c.Status = ConversationActive
	}
	if err := s.checkEnum(TableConversation, "status", string(c.Status)); err != nil {
		return err
	}
	if err := s.assignID(TableConversation, &c.ID); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableConversation, "customer_id", c.CustomerID); err != nil {
		return err
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	return insertRow(ctx, s, conversationModel, c)
}

func (s *Store) UpdateConversation(ctx context.Context, c *Conversation) error {
	if err := s.checkEnum(TableConversation, "status", string(c.Status)); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableConversation, "customer_id", c.CustomerID); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	return updateRow(ctx, s, conversationModel, c)
}

// ResolveConversation marks the conversation resolved and records when.
func (s *Store) ResolveConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	c.Status = ConversationResolved
	c.ResolvedAt = &now
	if err := s.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getByKey(ctx, s, conversationModel, id)
}

func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	return listRecent(ctx, s, conversationModel, limit)
}

// DeleteConversation also removes the conversation's messages and feedback.
func (s *Store) DeleteConversation(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, conversationModel, id)
}

var messageModel = model[Message]{
	table:   TableMessage,
	columns: []string{"id", "conversation_id", "content", "role", "created_at", "updated_at", "metadata"},
	key:     []string{"id"},
	values: func(m *Message) []any {
		return []any{m.ID, m.ConversationID, m.Content, string(m.Role),
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt), jsonArg(m.Metadata)}
	},
	scan: func(sc rowScanner) (Message, error) {
		var m Message
		var role string
		var created, updated, metadata sql.NullString
		if err := sc.Scan(&m.ID, &m.ConversationID, &m.Content, &role, &created, &updated, &metadata); err != nil {
			return Message{}, err
		}
		var err error
		if m.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return Message{}, err
		}
		if m.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return Message{}, err
		}
		m.Role = MessageRole(role)
		m.Metadata = nullJSON(metadata)
		return m, nil
	},
}

func (s *Store) validateMessage(m *Message) error {
	if err := s.checkEnum(TableMessage, "role", string(m.Role)); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableMessage, "conversation_id", &m.ConversationID); err != nil {
		return err
	}
	return s.checkJSON(TableMessage, "metadata", m.Metadata)
}

func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if err := s.validateMessage(m); err != nil {
		return err
	}
	if err := s.assignID(TableMessage, &m.ID); err != nil {
		return err
	}
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	return insertRow(ctx, s, messageModel, m)
}

func (s *Store) UpdateMessage(ctx context.Context, m *Message) error {
	if err := s.validateMessage(m); err != nil {
		return err
	}
	m.UpdatedAt = s.now()
	return updateRow(ctx, s, messageModel, m)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	return getByKey(ctx, s, messageModel, id)
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	return listRecent(ctx, s, messageModel, limit)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, messageModel, id)
}

var feedbackModel = model[Feedback]{
	table:   TableFeedback,
	columns: []string{"id", "conversation_id", "rating", "comment", "created_at", "updated_at", "helpful"},
	key:     []string{"id"},
	values: func(f *Feedback) []any {
		return []any{f.ID, f.ConversationID, f.Rating, f.Comment,
			formatTime(f.CreatedAt), formatTime(f.UpdatedAt), f.Helpful}
	},
	scan: func(sc rowScanner) (Feedback, error) {
		var f Feedback
		var rating sql.NullInt64
		var comment, created, updated sql.NullString
		var helpful sql.NullBool
		if err := sc.Scan(&f.ID, &f.ConversationID, &rating, &comment, &created, &updated, &helpful); err != nil {
			return Feedback{}, err
		}
		var err error
		if f.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return Feedback{}, err
		}
		if f.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return Feedback{}, err
		}
		f.Rating = nullInt(rating)
		f.Comment = nullString(comment)
		f.Helpful = nullBool(helpful)
		return f, nil
	},
}

func (s *Store) CreateFeedback(ctx context.Context, f *Feedback) error {
	if err := s.assignID(TableFeedback, &f.ID); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableFeedback, "conversation_id", &f.ConversationID); err != nil {
		return err
	}
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt
	return insertRow(ctx, s, feedbackModel, f)
}

func (s *Store) UpdateFeedback(ctx context.Context, f *Feedback) error {
	if err := s.canonicalUUID(TableFeedback, "conversation_id", &f.ConversationID); err != nil {
		return err
	}
	f.UpdatedAt = s.now()
	return updateRow(ctx, s, feedbackModel, f)
}

func (s *Store) GetFeedback(ctx context.Context, id string) (*Feedback, error) {
	return getByKey(ctx, s, feedbackModel, id)
}

func (s *Store) ListFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	return listRecent(ctx, s, feedbackModel, limit)
}

func (s *Store) DeleteFeedback(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, feedbackModel, id)
}
