package parser

import (
	"strings"
	"testing"
)

func TestParseCreateTableBasic(t *testing.T) {
	sql := `CREATE TABLE IF NOT EXISTS "users" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT UNIQUE,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`
	stmt, err := Parse(sql, CategoryTable)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct := stmt.(*CreateTable)
	if ct.Name != "users" || !ct.IfNotExists {
		t.Fatalf("unexpected table: %+v", ct)
	}
	if len(ct.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(ct.Columns))
	}
	if ct.Columns[0].PK == nil || !ct.Columns[0].PK.Autoincrement {
		t.Fatalf("expected autoincrement pk on id: %+v", ct.Columns[0])
	}
	if ct.Columns[1].NotNull == nil {
		t.Fatalf("expected NOT NULL on name")
	}
	if ct.Columns[2].Unique == nil {
		t.Fatalf("expected UNIQUE on email")
	}
}

func TestParseForeignKeyTableAndColumns(t *testing.T) {
	sql := `CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`
	stmt, err := Parse(sql, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct := stmt.(*CreateTable)
	tables := ct.Tables()
	if !tables["users"] {
		t.Fatalf("expected users as a referenced table, got %+v", tables)
	}
	if ct.Columns[1].FK == nil || ct.Columns[1].FK.Table != "users" || ct.Columns[1].FK.OnDelete != "CASCADE" {
		t.Fatalf("unexpected FK on user_id: %+v", ct.Columns[1].FK)
	}
}

func TestParseCreateIndex(t *testing.T) {
	stmt, err := Parse(`CREATE UNIQUE INDEX idx_users_email ON users (email COLLATE NOCASE DESC) WHERE email IS NOT NULL`, CategoryIndex)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ci := stmt.(*CreateIndex)
	if !ci.Unique || ci.Table != "users" || len(ci.Columns) != 1 {
		t.Fatalf("unexpected index: %+v", ci)
	}
	if ci.Columns[0].Collate != "NOCASE" || ci.Columns[0].Direction != "DESC" {
		t.Fatalf("unexpected index column: %+v", ci.Columns[0])
	}
	if ci.Where == "" {
		t.Fatalf("expected WHERE clause to be captured")
	}
}

func TestParseCreateTriggerCollectsTableRefs(t *testing.T) {
	sql := `CREATE TRIGGER trg_after_insert AFTER INSERT ON orders FOR EACH ROW BEGIN
		UPDATE users SET order_count = order_count + 1 WHERE id = NEW.user_id;
		INSERT INTO audit_log (msg) VALUES ('created');
	END`
	stmt, err := Parse(sql, CategoryTrigger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tg := stmt.(*CreateTrigger)
	if tg.Table != "orders" || tg.Upon != "AFTER" || tg.Action != "INSERT" {
		t.Fatalf("unexpected trigger head: %+v", tg)
	}
	tables := tg.Tables()
	if !tables["orders"] || !tables["users"] {
		t.Fatalf("expected orders+users in Tables(), got %+v", tables)
	}
}

func TestParseCreateView(t *testing.T) {
	stmt, err := Parse(`CREATE VIEW v_order_totals (user_id, total) AS SELECT user_id, COUNT(*) FROM orders GROUP BY user_id`, CategoryView)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := stmt.(*CreateView)
	if len(v.Columns) != 2 {
		t.Fatalf("expected 2 explicit columns, got %+v", v.Columns)
	}
	if !v.Tables()["orders"] {
		t.Fatalf("expected orders in view Tables(), got %+v", v.Tables())
	}
}

func TestGenerateRoundTripCompact(t *testing.T) {
	sql := `CREATE TABLE t (a INTEGER, b TEXT NOT NULL)`
	stmt, err := Parse(sql, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Generate(stmt, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, `a INTEGER`) || !strings.Contains(out, `b TEXT NOT NULL`) {
		t.Fatalf("unexpected generated SQL: %s", out)
	}
}

func TestGenerateIndentedAligns(t *testing.T) {
	sql := `CREATE TABLE t (id INTEGER, longname TEXT)`
	stmt, _ := Parse(sql, "")
	out, err := Generate(stmt, "  ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lines := strings.Split(out, "\n")
	var idLine, nameLine string
	for _, l := range lines {
		if strings.Contains(l, `id `) && !strings.Contains(l, `longname`) {
			idLine = l
		}
		if strings.Contains(l, `longname`) {
			nameLine = l
		}
	}
	if idLine == "" || nameLine == "" {
		t.Fatalf("expected both column lines present: %q", out)
	}
	idCol := strings.Index(idLine, "INTEGER")
	nameCol := strings.Index(nameLine, "TEXT")
	if idCol != nameCol {
		t.Fatalf("expected aligned type columns, got %d vs %d in %q", idCol, nameCol, out)
	}
}

func TestTransformRenameTableCascadesToTriggerBody(t *testing.T) {
	sql := `CREATE TRIGGER trg AFTER INSERT ON orders BEGIN UPDATE orders SET x = 1; END`
	renames := Renames{"table": {Map: map[string]string{"orders": "purchases"}}}
	out, err := Transform(sql, renames, nil, "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(out, `ON purchases`) {
		t.Fatalf("expected ON clause renamed: %s", out)
	}
	if !strings.Contains(out, `UPDATE purchases`) {
		t.Fatalf("expected trigger body table renamed: %s", out)
	}
}

func TestTransformNeverRenamesOldNew(t *testing.T) {
	sql := `CREATE TRIGGER trg BEFORE UPDATE ON widgets BEGIN SELECT OLD.id, NEW.id; END`
	renames := Renames{"table": {Map: map[string]string{"old": "renamed_old", "new": "renamed_new"}}}
	out, err := Transform(sql, renames, nil, "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if strings.Contains(out, "renamed_old") || strings.Contains(out, "renamed_new") {
		t.Fatalf("OLD/NEW must never be renamed: %s", out)
	}
}

func TestQuoteUnquote(t *testing.T) {
	if got := Quote("simple", false); got != "simple" {
		t.Fatalf("expected unquoted simple identifier, got %q", got)
	}
	if got := Quote("has space", false); got != `"has space"` {
		t.Fatalf("expected quoted identifier, got %q", got)
	}
	if got := Quote(`weird"name`, false); got != `"weird""name"` {
		t.Fatalf("expected doubled quote escaping, got %q", got)
	}
	if got := Unquote(`"weird""name"`); got != `weird"name` {
		t.Fatalf("expected unescaped name, got %q", got)
	}
}

func TestParsePreservesLeadingComment(t *testing.T) {
	sql := "/* keep this around */\nCREATE TABLE widgets (id INTEGER PRIMARY KEY)"
	stmt, err := Parse(sql, CategoryTable)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := stmt.LeadingComment(); got != "/* keep this around */" {
		t.Fatalf("expected leading comment preserved, got %q", got)
	}
	out, err := Generate(stmt, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(out, "/* keep this around */\n") {
		t.Fatalf("expected generated SQL to lead with the comment, got %q", out)
	}
	if !strings.Contains(out, "CREATE TABLE") {
		t.Fatalf("expected statement body preserved, got %q", out)
	}
}

func TestTransformPreservesComments(t *testing.T) {
	sql := "/* audit table, do not drop */\nCREATE TABLE widgets (id INTEGER PRIMARY KEY)"
	renames := Renames{"table": {All: "gadgets"}}
	out, err := Transform(sql, renames, nil, "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.HasPrefix(out, "/* audit table, do not drop */\n") {
		t.Fatalf("expected Transform to keep the leading comment, got %q", out)
	}
	if !strings.Contains(out, "gadgets") {
		t.Fatalf("expected rename to still apply, got %q", out)
	}
}
