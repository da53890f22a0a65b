// Integration test of the sqlitelydef command.
//
// Test requirement:
//   - go command (TestMain builds the binary under test)
package main

import (
	"database/sql"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

const testDBName = "sqlitelydef_test.db"

func TestMain(m *testing.M) {
	resetTestDatabase()
	mustExecute("go", "build", "-o", "sqlitelydef")
	status := m.Run()
	_ = os.Remove("sqlitelydef")
	_ = os.Remove(testDBName)
	_ = os.Remove("schema.sql")
	os.Exit(status)
}

func TestSqlitelydefHelp(t *testing.T) {
	if _, err := execute("./sqlitelydef", "--help"); err != nil {
		t.Errorf("failed to run --help: %s", err)
	}
}

func TestSqlitelydefNoDatabase(t *testing.T) {
	out, err := execute("./sqlitelydef")
	if err == nil {
		t.Errorf("no database must be an error, but got: %s", out)
	}
}

func TestSqlitelydefExport(t *testing.T) {
	resetTestDatabase()
	mustExecuteSQL(stripHeredoc(`
		CREATE TABLE users (
		    id integer NOT NULL PRIMARY KEY,
		    age integer
		);`,
	))

	out := assertedExecute(t, "./sqlitelydef", testDBName, "--export")
	if !strings.Contains(out, "CREATE TABLE") || !strings.Contains(out, "users") {
		t.Errorf("expected exported schema to contain the users table, got: %s", out)
	}
}

func TestSqlitelydefAlterDryRunAndApply(t *testing.T) {
	resetTestDatabase()
	mustExecuteSQL(stripHeredoc(`
		CREATE TABLE users (
		    id integer NOT NULL PRIMARY KEY,
		    age integer
		);`,
	))
	writeFile("schema.sql", stripHeredoc(`
		CREATE TABLE users (
		    id integer NOT NULL PRIMARY KEY,
		    age integer,
		    name text
		);`,
	))

	dryRun := assertedExecute(t, "./sqlitelydef", testDBName, "--dry-run", "--file", "schema.sql")
	if !strings.Contains(dryRun, "ADD COLUMN") || !strings.Contains(dryRun, "name") {
		t.Errorf("expected dry run to mention adding the name column, got: %s", dryRun)
	}

	assertedExecute(t, "./sqlitelydef", testDBName, "--file", "schema.sql")

	cols := queryColumns(t, "users")
	if !contains(cols, "name") {
		t.Errorf("expected users to have a name column after apply, got: %v", cols)
	}
}

func TestSqlitelydefChecksum(t *testing.T) {
	resetTestDatabase()
	mustExecuteSQL(`CREATE TABLE t (id integer);`)

	out := assertedExecute(t, "./sqlitelydef", testDBName, "--checksum")
	if !strings.Contains(out, "md5:") || !strings.Contains(out, "sha1:") {
		t.Errorf("expected checksum output to contain both digests, got: %s", out)
	}
}

func mustExecute(command string, args ...string) {
	out, err := execute(command, args...)
	if err != nil {
		log.Printf("failed to execute '%s %s': `%s`", command, strings.Join(args, " "), out)
		log.Fatal(err)
	}
}

func assertedExecute(t *testing.T, command string, args ...string) string {
	t.Helper()
	out, err := execute(command, args...)
	if err != nil {
		t.Errorf("failed to execute '%s %s' (error: %s): %s", command, strings.Join(args, " "), err, out)
	}
	return out
}

func execute(command string, args ...string) (string, error) {
	cmd := exec.Command(command, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func resetTestDatabase() {
	_ = os.Remove(testDBName)
}

func mustExecuteSQL(sqlText string) {
	db, err := sql.Open("sqlite", testDBName)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(sqlText); err != nil {
		log.Fatal(err)
	}
}

func queryColumns(t *testing.T, table string) []string {
	t.Helper()
	db, err := sql.Open("sqlite", testDBName)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		cols = append(cols, name)
	}
	return cols
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func writeFile(path string, content string) {
	file, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer file.Close()
	file.WriteString(content)
}

func stripHeredoc(heredoc string) string {
	heredoc = strings.TrimPrefix(heredoc, "\n")
	re := regexp.MustCompilePOSIX("^\t*")
	return re.ReplaceAllLiteralString(heredoc, "")
}
