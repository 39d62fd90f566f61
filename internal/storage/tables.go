package storage

import "github.com/torva/torva/internal/schema"

// DefaultTablePrefix namespaces every physical table and index name.
const DefaultTablePrefix = "torva_"

// Logical table names.
const (
	TableCustomer      = "customer"
	TableAccount       = "account"
	TableSession       = "session"
	TableCategory      = "category"
	TableConversation  = "conversation"
	TableMessage       = "message"
	TableKnowledgeBase = "knowledge_base"
	TableFeedback      = "feedback"
)

func uuidPK() schema.Column {
	return schema.Column{Name: "id", Type: schema.UUID}
}

func references(table string, onDelete schema.Action) *schema.ForeignKey {
	return &schema.ForeignKey{Table: table, Column: "id", OnDelete: onDelete}
}

func withTimestamps(cols ...schema.Column) []schema.Column {
	return append(cols, schema.Timestamps()...)
}

// Tables returns the definitions of every torva table.
func Tables() []*schema.Table {
	customer := &schema.Table{
		Name: TableCustomer,
		Columns: []schema.Column{
			uuidPK(),
			{Name: "email", Type: schema.Varchar, Length: 255},
			{Name: "email_verified", Type: schema.Timestamp, Nullable: true},
			{Name: "name", Type: schema.Varchar, Length: 255},
			{Name: "image", Type: schema.Varchar, Length: 255, Nullable: true},
			{Name: "metadata", Type: schema.JSON, Nullable: true},
			{Name: schema.CreatedAt, Type: schema.Timestamp},
			{Name: schema.UpdatedAt, Type: schema.Timestamp},
		},
		PrimaryKey: []string{"id"},
	}

	account := &schema.Table{
		Name: TableAccount,
		Columns: []schema.Column{
			{Name: "user_id", Type: schema.UUID, References: references(TableCustomer, schema.Cascade)},
			{Name: "type", Type: schema.Varchar, Length: 255, Enum: AccountTypes()},
			{Name: "provider", Type: schema.Varchar, Length: 255},
			{Name: "provider_account_id", Type: schema.Varchar, Length: 255},
			{Name: "refresh_token", Type: schema.Varchar, Length: 255, Nullable: true},
			{Name: "access_token", Type: schema.Text, Nullable: true},
			{Name: "expires_at", Type: schema.Integer, Nullable: true},
			{Name: "token_type", Type: schema.Varchar, Length: 255, Nullable: true},
			{Name: "scope", Type: schema.Varchar, Length: 255, Nullable: true},
			{Name: "id_token", Type: schema.Text, Nullable: true},
			{Name: "session_state", Type: schema.Varchar, Length: 255, Nullable: true},
		},
		PrimaryKey: []string{"provider", "provider_account_id"},
	}

	session := &schema.Table{
		Name: TableSession,
		Columns: []schema.Column{
			{Name: "session_token", Type: schema.Varchar, Length: 255},
			{Name: "user_id", Type: schema.UUID, References: references(TableCustomer, schema.Cascade)},
			{Name: "expires", Type: schema.Timestamp},
		},
		PrimaryKey: []string{"session_token"},
	}

	// Categories referenced by children or articles cannot be deleted.
	category := &schema.Table{
		Name: TableCategory,
		Columns: withTimestamps(
			uuidPK(),
			schema.Column{Name: "name", Type: schema.Varchar, Length: 30},
			schema.Column{Name: "parent_id", Type: schema.UUID, Nullable: true, References: references(TableCategory, schema.Restrict)},
		),
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "category_name_idx", Columns: []string{"name"}, Unique: true}},
	}

	conversation := &schema.Table{
		Name: TableConversation,
		Columns: append(withTimestamps(
			uuidPK(),
			schema.Column{Name: "customer_id", Type: schema.UUID, Nullable: true, References: references(TableCustomer, schema.Cascade)},
			schema.Column{Name: "status", Type: schema.Varchar, Length: 50, Default: string(ConversationActive), Enum: ConversationStatuses()},
			schema.Column{Name: "subject", Type: schema.Varchar, Length: 255, Nullable: true},
		), schema.Column{Name: "resolved_at", Type: schema.Timestamp, Nullable: true}),
		PrimaryKey: []string{"id"},
	}

	message := &schema.Table{
		Name: TableMessage,
		Columns: append(withTimestamps(
			uuidPK(),
			schema.Column{Name: "conversation_id", Type: schema.UUID, References: references(TableConversation, schema.Cascade)},
			schema.Column{Name: "content", Type: schema.Text},
			schema.Column{Name: "role", Type: schema.Varchar, Length: 50, Enum: MessageRoles()},
		), schema.Column{Name: "metadata", Type: schema.JSON, Nullable: true}),
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "message_conversation_id_idx", Columns: []string{"conversation_id"}}},
	}

	knowledgeBase := &schema.Table{
		Name: TableKnowledgeBase,
		Columns: append(withTimestamps(
			uuidPK(),
			schema.Column{Name: "customer_id", Type: schema.UUID, References: references(TableCustomer, schema.Cascade)},
			schema.Column{Name: "title", Type: schema.Varchar, Length: 255},
			schema.Column{Name: "content", Type: schema.Text},
			schema.Column{Name: "category_id", Type: schema.UUID, Nullable: true, References: references(TableCategory, schema.Restrict)},
			schema.Column{Name: "status", Type: schema.Varchar, Length: 50, Default: string(ArticleDraft), Enum: ArticleStatuses()},
		), schema.Column{Name: "metadata", Type: schema.JSON, Nullable: true}),
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "knowledge_base_customer_id_idx", Columns: []string{"customer_id"}}},
	}

	feedback := &schema.Table{
		Name: TableFeedback,
		Columns: append(withTimestamps(
			uuidPK(),
			schema.Column{Name: "conversation_id", Type: schema.UUID, References: references(TableConversation, schema.Cascade)},
			schema.Column{Name: "rating", Type: schema.Integer, Nullable: true},
			schema.Column{Name: "comment", Type: schema.Text, Nullable: true},
		), schema.Column{Name: "helpful", Type: schema.Boolean, Nullable: true}),
		PrimaryKey: []string{"id"},
	}

	return []*schema.Table{customer, account, session, category, conversation, message, knowledgeBase, feedback}
}

// Relations returns both directions of every foreign key between torva tables.
func Relations() []schema.Relation {
	const parentToChildren = "parent_to_children_category"
	return []schema.Relation{
		schema.HasMany("accounts", TableCustomer, "id", TableAccount, "user_id"),
		schema.HasMany("sessions", TableCustomer, "id", TableSession, "user_id"),
		schema.HasMany("conversations", TableCustomer, "id", TableConversation, "customer_id"),
		schema.HasMany("knowledgeBase", TableCustomer, "id", TableKnowledgeBase, "customer_id"),

		schema.BelongsTo("customer", TableAccount, "user_id", TableCustomer, "id"),
		schema.BelongsTo("customer", TableSession, "user_id", TableCustomer, "id"),

		schema.BelongsTo("parent", TableCategory, "parent_id", TableCategory, "id").Named(parentToChildren),
		schema.HasMany("children", TableCategory, "id", TableCategory, "parent_id").Named(parentToChildren),
		schema.HasMany("knowledgeBase", TableCategory, "id", TableKnowledgeBase, "category_id"),

		schema.BelongsTo("customer", TableConversation, "customer_id", TableCustomer, "id"),
		schema.HasMany("messages", TableConversation, "id", TableMessage, "conversation_id"),
		schema.HasMany("feedback", TableConversation, "id", TableFeedback, "conversation_id"),

		schema.BelongsTo("conversation", TableMessage, "conversation_id", TableConversation, "id"),

		schema.BelongsTo("customer", TableKnowledgeBase, "customer_id", TableCustomer, "id"),
		schema.BelongsTo("category", TableKnowledgeBase, "category_id", TableCategory, "id"),

		schema.BelongsTo("conversation", TableFeedback, "conversation_id", TableConversation, "id"),
	}
}

// NewRegistry builds the torva schema registry. An empty prefix selects
// DefaultTablePrefix.
func NewRegistry(prefix string) (*schema.Registry, error) {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	return schema.NewRegistry(prefix, Tables(), Relations())
}
