package schema

import (
	"strings"
	"testing"
)

func authorTable() *Table {
	return &Table{
		Name: "author",
		Columns: append([]Column{
			{Name: "id", Type: UUID},
			{Name: "name", Type: Varchar, Length: 30, Unique: true},
		}, Timestamps()...),
		PrimaryKey: []string{"id"},
	}
}

func postTable() *Table {
	return &Table{
		Name: "post",
		Columns: []Column{
			{Name: "id", Type: UUID},
			{Name: "author_id", Type: UUID, References: &ForeignKey{Table: "author", Column: "id", OnDelete: Cascade}},
			{Name: "state", Type: Varchar, Length: 20, Default: "draft", Enum: []string{"draft", "live"}},
			{Name: "body", Type: JSON, Nullable: true},
			{Name: "pinned", Type: Boolean, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []Index{{Name: "post_author_id_idx", Columns: []string{"author_id"}}},
	}
}

func postRelations() []Relation {
	return []Relation{
		HasMany("posts", "author", "id", "post", "author_id"),
		BelongsTo("author", "post", "author_id", "author", "id"),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	// Child registered first to exercise creation ordering.
	r, err := NewRegistry("app_", []*Table{postTable(), authorTable()}, postRelations())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNewRegistry_Valid(t *testing.T) {
	r := newTestRegistry(t)

	if got := r.PhysicalName("post"); got != "app_post" {
		t.Errorf("PhysicalName = %q, want %q", got, "app_post")
	}
	if _, ok := r.Table("author"); !ok {
		t.Error("Table(author) not found")
	}
	rel, ok := r.Relation("author", "posts")
	if !ok {
		t.Fatal("Relation(author, posts) not found")
	}
	inv, ok := r.Inverse(rel)
	if !ok {
		t.Fatal("Inverse(posts) not found")
	}
	if inv.Name != "author" || inv.Kind != One {
		t.Errorf("Inverse = %s (%s), want author (one)", inv.Name, inv.Kind)
	}
}

func TestNewRegistry_Prefix(t *testing.T) {
	for _, prefix := range []string{"", "app_", "Support2_", "_x"} {
		if _, err := NewRegistry(prefix, []*Table{authorTable()}, nil); err != nil {
			t.Errorf("NewRegistry(%q): %v", prefix, err)
		}
	}
	for _, prefix := range []string{"my-app ", "1app_", "app.", "a b", "app;"} {
		_, err := NewRegistry(prefix, []*Table{authorTable()}, nil)
		if err == nil || !strings.Contains(err.Error(), "invalid table prefix") {
			t.Errorf("NewRegistry(%q) error = %v, want invalid table prefix", prefix, err)
		}
	}
}

func TestNewRegistry_UnknownForeignKeyTarget(t *testing.T) {
	post := postTable()
	_, err := NewRegistry("", []*Table{post}, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown table") {
		t.Fatalf("error = %v, want unknown table", err)
	}
}

func TestNewRegistry_RequiresBothDirections(t *testing.T) {
	rels := []Relation{BelongsTo("author", "post", "author_id", "author", "id")}
	_, err := NewRegistry("", []*Table{authorTable(), postTable()}, rels)
	if err == nil || !strings.Contains(err.Error(), "no many-relation") {
		t.Fatalf("error = %v, want missing many-relation", err)
	}

	rels = []Relation{HasMany("posts", "author", "id", "post", "author_id")}
	_, err = NewRegistry("", []*Table{authorTable(), postTable()}, rels)
	if err == nil || !strings.Contains(err.Error(), "no one-relation") {
		t.Fatalf("error = %v, want missing one-relation", err)
	}
}

func TestNewRegistry_RelationWithoutForeignKey(t *testing.T) {
	rels := append(postRelations(), BelongsTo("bogus", "post", "id", "author", "id"))
	_, err := NewRegistry("", []*Table{authorTable(), postTable()}, rels)
	if err == nil || !strings.Contains(err.Error(), "not a foreign key") {
		t.Fatalf("error = %v, want not a foreign key", err)
	}
}

func TestNewRegistry_EnumDefaultMustBeMember(t *testing.T) {
	post := postTable()
	post.Columns[2].Default = "deleted"
	_, err := NewRegistry("", []*Table{authorTable(), post}, postRelations())
	if err == nil || !strings.Contains(err.Error(), "default") {
		t.Fatalf("error = %v, want invalid default", err)
	}
}

func nodeTable() *Table {
	return &Table{
		Name: "node",
		Columns: []Column{
			{Name: "id", Type: UUID},
			{Name: "parent_id", Type: UUID, Nullable: true, References: &ForeignKey{Table: "node", Column: "id", OnDelete: Restrict}},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestNewRegistry_SelfRelation(t *testing.T) {
	unnamed := []Relation{
		BelongsTo("parent", "node", "parent_id", "node", "id"),
		HasMany("children", "node", "id", "node", "parent_id"),
	}
	if _, err := NewRegistry("", []*Table{nodeTable()}, unnamed); err == nil {
		t.Fatal("expected error for unnamed self-relation")
	}

	named := []Relation{
		BelongsTo("parent", "node", "parent_id", "node", "id").Named("parent_to_children"),
		HasMany("children", "node", "id", "node", "parent_id").Named("parent_to_children"),
	}
	r, err := NewRegistry("", []*Table{nodeTable()}, named)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	parent, _ := r.Relation("node", "parent")
	inv, ok := r.Inverse(parent)
	if !ok || inv.Name != "children" {
		t.Errorf("Inverse(parent) = %q, %v; want children", inv.Name, ok)
	}
}

func TestNewRegistry_AmbiguousRelations(t *testing.T) {
	doc := &Table{
		Name: "doc",
		Columns: []Column{
			{Name: "id", Type: UUID},
			{Name: "owner_id", Type: UUID, References: &ForeignKey{Table: "author", Column: "id"}},
			{Name: "editor_id", Type: UUID, References: &ForeignKey{Table: "author", Column: "id"}},
		},
		PrimaryKey: []string{"id"},
	}
	rels := []Relation{
		BelongsTo("owner", "doc", "owner_id", "author", "id"),
		BelongsTo("editor", "doc", "editor_id", "author", "id"),
		HasMany("owned", "author", "id", "doc", "owner_id"),
		HasMany("edited", "author", "id", "doc", "editor_id"),
	}
	if _, err := NewRegistry("", []*Table{authorTable(), doc}, rels); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("error = %v, want ambiguous", err)
	}

	rels = []Relation{
		rels[0].Named("doc_owner"),
		rels[1].Named("doc_editor"),
		rels[2].Named("doc_owner"),
		rels[3].Named("doc_editor"),
	}
	r, err := NewRegistry("", []*Table{authorTable(), doc}, rels)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	edited, _ := r.Relation("author", "edited")
	inv, _ := r.Inverse(edited)
	if inv.Name != "editor" {
		t.Errorf("Inverse(edited) = %q, want editor", inv.Name)
	}
}

func TestCompile_SQLite(t *testing.T) {
	r := newTestRegistry(t)

	stmts, err := Compile(r, SQLite)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("len(stmts) = %d, want 3:\n%s", len(stmts), strings.Join(stmts, "\n"))
	}
	if !strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS app_author") {
		t.Errorf("first statement should create app_author, got:\n%s", stmts[0])
	}

	post := stmts[1]
	for _, want := range []string{
		"author_id TEXT NOT NULL",
		"state TEXT NOT NULL DEFAULT 'draft'",
		"CONSTRAINT app_post_state_check CHECK (length(state) <= 20 AND state IN ('draft', 'live'))",
		"CONSTRAINT app_post_body_check CHECK (json_valid(body))",
		"CONSTRAINT app_post_pinned_check CHECK (pinned IN (0, 1))",
		"CONSTRAINT app_post_author_id_check CHECK (length(author_id) = 36 AND author_id = lower(author_id))",
		"CONSTRAINT app_post_author_id_fkey FOREIGN KEY (author_id) REFERENCES app_author (id) ON DELETE CASCADE",
		"CONSTRAINT app_post_pkey PRIMARY KEY (id)",
	} {
		if !strings.Contains(post, want) {
			t.Errorf("post DDL missing %q:\n%s", want, post)
		}
	}
	if strings.Contains(post, "body TEXT NOT NULL") {
		t.Errorf("nullable column rendered NOT NULL:\n%s", post)
	}
	if !strings.Contains(stmts[0], "CONSTRAINT app_author_name_key UNIQUE (name)") {
		t.Errorf("author DDL missing unique constraint:\n%s", stmts[0])
	}
	if stmts[2] != "CREATE INDEX IF NOT EXISTS app_post_author_id_idx ON app_post (author_id)" {
		t.Errorf("index statement = %q", stmts[2])
	}
}

func TestCompile_Postgres(t *testing.T) {
	r := newTestRegistry(t)

	stmts, err := Compile(r, Postgres)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	all := strings.Join(stmts, "\n")
	for _, want := range []string{
		"id UUID NOT NULL",
		"name VARCHAR(30) NOT NULL",
		"created_at TIMESTAMPTZ NOT NULL",
		"body JSONB",
		"pinned BOOLEAN",
		"CHECK (state IN ('draft', 'live'))",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("postgres DDL missing %q:\n%s", want, all)
		}
	}
	if strings.Contains(all, "json_valid") || strings.Contains(all, "length(") {
		t.Errorf("postgres DDL carries sqlite-only checks:\n%s", all)
	}
}

func TestCompileDrop_ReverseOrder(t *testing.T) {
	r := newTestRegistry(t)

	stmts, err := CompileDrop(r)
	if err != nil {
		t.Fatalf("CompileDrop: %v", err)
	}
	want := []string{"DROP TABLE IF EXISTS app_post", "DROP TABLE IF EXISTS app_author"}
	if strings.Join(stmts, ";") != strings.Join(want, ";") {
		t.Errorf("CompileDrop = %v, want %v", stmts, want)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y IN (?, ?)"
	if got := SQLite.Rebind(q); got != q {
		t.Errorf("SQLite.Rebind = %q, want unchanged", got)
	}
	want := "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)"
	if got := Postgres.Rebind(q); got != want {
		t.Errorf("Postgres.Rebind = %q, want %q", got, want)
	}
}

func TestDialectFor(t *testing.T) {
	if d, err := DialectFor("postgres"); err != nil || d.Name() != "postgres" {
		t.Errorf("DialectFor(postgres) = %v, %v", d, err)
	}
	if _, err := DialectFor("mysql"); err == nil {
		t.Error("DialectFor(mysql) should fail")
	}
}
