package schema

import (
	"fmt"
	"strings"

	"github.com/antlr4-go/antlr/v4"
	sqliteparser "github.com/libsql/sqlite-antlr4-parser/sqlite"
)

// ValidateDDL parses a generated statement with the same SQLite grammar
// the teacher depends on and rejects anything that isn't a single
// well-formed CREATE/DROP statement, per spec.md §4.6 — defense in depth
// beyond the identifier escaping CreateIndex/FTSStatements already do,
// grounded on atomicbase's ValidateDDLQuery (which only checks the
// leading keyword; this generalizes that check into a real parse).
func ValidateDDL(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return fmt.Errorf("schema: empty DDL statement")
	}
	firstWord := strings.ToUpper(strings.Fields(trimmed)[0])
	switch firstWord {
	case "CREATE", "DROP":
	default:
		return fmt.Errorf("schema: not a DDL statement: %s", firstWord)
	}

	errs := &collectingErrorListener{}

	input := antlr.NewInputStream(trimmed)
	lexer := sqliteparser.NewSQLiteLexer(input)
	lexer.RemoveErrorListeners()
	lexer.AddErrorListener(errs)

	tokens := antlr.NewCommonTokenStream(lexer, antlr.TokenDefaultChannel)
	p := sqliteparser.NewSQLiteParser(tokens)
	p.RemoveErrorListeners()
	p.AddErrorListener(errs)

	p.Parse()

	if len(errs.messages) > 0 {
		return fmt.Errorf("schema: invalid DDL: %s", strings.Join(errs.messages, "; "))
	}
	return nil
}

// collectingErrorListener accumulates antlr syntax errors instead of
// printing them to stderr, the way the teacher's HTTP handlers always
// turn failures into returned errors rather than logging-and-continuing.
type collectingErrorListener struct {
	*antlr.DefaultErrorListener
	messages []string
}

func (l *collectingErrorListener) SyntaxError(_ antlr.Recognizer, _ any, line, column int, msg string, _ antlr.RecognitionException) {
	l.messages = append(l.messages, fmt.Sprintf("line %d:%d %s", line, column, msg))
}
