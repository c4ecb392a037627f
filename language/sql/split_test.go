package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func texts(stmts []statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.text
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"trailing semicolon", "SELECT 1;", []string{"SELECT 1"}},
		{"several", "SELECT 1; SELECT 2;\nSELECT 3", []string{"SELECT 1", "SELECT 2", "SELECT 3"}},
		{"quoted semicolon", "SELECT 'a;b'; SELECT \"c;d\"", []string{"SELECT 'a;b'", "SELECT \"c;d\""}},
		{"escaped quote", "SELECT 'it''s;'", []string{"SELECT 'it''s;'"}},
		{"line comment", "SELECT 1; -- done; really\nSELECT 2", []string{"SELECT 1", "-- done; really\nSELECT 2"}},
		{"block comment", "SELECT /* ; */ 1", []string{"SELECT /* ; */ 1"}},
		{"empty", " ;; \n ; ", nil},
		{"comment only", "-- nothing here", nil},
		{"trailing block comment", "SELECT 1; /* the end */", []string{"SELECT 1"}},
		{"mixed comments only", "/* a; */\n-- b\n/* c */", nil},
		{
			"trigger body",
			"CREATE TRIGGER t AFTER INSERT ON a BEGIN INSERT INTO b VALUES (1); UPDATE c SET x = CASE WHEN 1 THEN 2 END; END; SELECT 1",
			[]string{"CREATE TRIGGER t AFTER INSERT ON a BEGIN INSERT INTO b VALUES (1); UPDATE c SET x = CASE WHEN 1 THEN 2 END; END", "SELECT 1"},
		},
		{"begin transaction", "BEGIN; INSERT INTO a VALUES (1); COMMIT", []string{"BEGIN", "INSERT INTO a VALUES (1)", "COMMIT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(split(tt.script))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitLines(t *testing.T) {
	stmts := split("SELECT 1;\n\nSELECT\n'x\ny';\nSELECT 3")
	assert.Equal(t, 1, stmts[0].line)
	assert.Equal(t, 3, stmts[1].line)
	assert.Equal(t, 6, stmts[2].line)
}

func TestReturnsRows(t *testing.T) {
	assert.True(t, returnsRows("select 1"))
	assert.True(t, returnsRows("  WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.True(t, returnsRows("-- note\nPRAGMA table_info(users)"))
	assert.True(t, returnsRows("INSERT INTO a VALUES (1) RETURNING id"))
	assert.False(t, returnsRows("INSERT INTO a VALUES (1)"))
	assert.False(t, returnsRows("CREATE TABLE a (id)"))
}

func TestModifiesRows(t *testing.T) {
	assert.True(t, modifiesRows("insert into a values (1)"))
	assert.True(t, modifiesRows("/* bulk */ DELETE FROM a"))
	assert.False(t, modifiesRows("CREATE TABLE a (id)"))
	assert.False(t, modifiesRows("DROP TABLE a"))
}
