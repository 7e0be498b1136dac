package graph

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPrefixes are available to every query without a PREFIX declaration.
var DefaultPrefixes = map[string]string{
	"rdf":    "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs":   "http://www.w3.org/2000/01/rdf-schema#",
	"xsd":    "http://www.w3.org/2001/XMLSchema#",
	"schema": "http://schema.org/",
	"wd":     "http://www.wikidata.org/entity/",
	"wdt":    "http://www.wikidata.org/prop/direct/",
}

// Row is one result row. Values are rendered as strings; NULL becomes "".
type Row []string

// Query runs a read-only structured query over the triple table.
//
// The dialect is SQLite SELECT (or WITH ... SELECT) over
// triples(subject, predicate, object, kind, lang, datatype). Graph patterns
// are expressed as self-joins. Queries may start with SPARQL-style
// declarations such as
//
//	PREFIX ex: <http://example.org/>
//
// after which any bare prefixed name (ex:thing, wdt:P57) outside string
// literals is replaced by the quoted full IRI. Using an undeclared prefix,
// a write statement or more than one statement fails with ErrInvalidQuery.
func (s *Store) Query(ctx context.Context, text string, args ...any) ([]Row, error) {
	stmt, err := prepareQuery(text, s.prefixes)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("graph: columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("graph: scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graph: rows: %w", err)
	}
	return out, nil
}

// Check validates text the way Query does and compiles it against the schema
// without running it.
func (s *Store) Check(ctx context.Context, text string) error {
	stmt, err := prepareQuery(text, s.prefixes)
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, "EXPLAIN "+stmt)
	if err != nil {
		return fmt.Errorf("graph: query does not compile: %w", err)
	}
	return rows.Close()
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "CREATE": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "ANALYZE": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true,
}

// prepareQuery strips PREFIX declarations, validates that the remaining text
// is a single read statement and expands prefixed names.
func prepareQuery(text string, defaults map[string]string) (string, error) {
	prefixes := make(map[string]string, len(defaults))
	for k, v := range defaults {
		prefixes[k] = v
	}

	body, err := parsePrefixes(text, prefixes)
	if err != nil {
		return "", err
	}

	body = strings.TrimSpace(body)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return "", fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}

	var b strings.Builder
	first := true
	for i := 0; i < len(body); {
		c := body[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(body, i)
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated quote", ErrInvalidQuery)
			}
			b.WriteString(body[i : end+1])
			i = end + 1

		case c == '-' && i+1 < len(body) && body[i+1] == '-':
			for i < len(body) && body[i] != '\n' {
				i++
			}

		case c == ';':
			return "", fmt.Errorf("%w: only one statement is allowed", ErrInvalidQuery)

		case isIdentStart(c):
			j := i
			for j < len(body) && isIdentChar(body[j]) {
				j++
			}
			word := body[i:j]

			if j+1 < len(body) && body[j] == ':' && isLocalChar(body[j+1]) {
				if first {
					return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrInvalidQuery)
				}
				k := j + 1
				for k < len(body) && isLocalChar(body[k]) {
					k++
				}
				ns, ok := prefixes[word]
				if !ok {
					return "", fmt.Errorf("%w: undefined prefix %q", ErrInvalidQuery, word)
				}
				b.WriteString("'")
				b.WriteString(strings.ReplaceAll(ns+body[j+1:k], "'", "''"))
				b.WriteString("'")
				i = k
				continue
			}

			upper := strings.ToUpper(word)
			if first && upper != "SELECT" && upper != "WITH" {
				return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrInvalidQuery)
			}
			if forbiddenKeywords[upper] || (upper == "REPLACE" && !followedByParen(body, j)) {
				return "", fmt.Errorf("%w: %s is not allowed", ErrInvalidQuery, upper)
			}
			first = false
			b.WriteString(word)
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}

	if first {
		return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrInvalidQuery)
	}
	return b.String(), nil
}

// parsePrefixes consumes leading "PREFIX name: <iri>" declarations.
func parsePrefixes(text string, prefixes map[string]string) (string, error) {
	rest := text
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if len(rest) < 7 || !strings.EqualFold(rest[:6], "PREFIX") || !isSpace(rest[6]) {
			return rest, nil
		}
		rest = strings.TrimLeft(rest[6:], " \t\r\n")

		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			return "", fmt.Errorf("%w: malformed PREFIX declaration", ErrInvalidQuery)
		}
		name := strings.TrimSpace(rest[:colon])
		for i := 0; i < len(name); i++ {
			if !isIdentChar(name[i]) {
				return "", fmt.Errorf("%w: malformed prefix name %q", ErrInvalidQuery, name)
			}
		}

		rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
		if !strings.HasPrefix(rest, "<") {
			return "", fmt.Errorf("%w: PREFIX %s needs an <iri>", ErrInvalidQuery, name)
		}
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated IRI for PREFIX %s", ErrInvalidQuery, name)
		}
		prefixes[name] = rest[1:end]
		rest = rest[end+1:]
	}
}

// closingQuote returns the index of the quote closing the one at start,
// honouring SQL doubled-quote escapes.
func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func followedByParen(s string, i int) bool {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i] == '('
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isLocalChar(c byte) bool {
	return isIdentChar(c) || c == '-'
}

// SetPrefix makes name usable in every subsequent query without a PREFIX
// declaration. Call it before the store is shared.
func (s *Store) SetPrefix(name, iri string) {
	s.prefixes[name] = iri
}
