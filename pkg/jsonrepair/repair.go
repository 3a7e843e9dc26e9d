// Package jsonrepair parses collector payloads that are supposed to be JSON
// arrays of posts but frequently arrive damaged: control characters from
// scraped text, unescaped quotes inside post bodies, truncated output. The
// pipeline tries progressively more forgiving strategies and reports which
// one succeeded.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lumolead/postscore/pkg/models"
)

// Method identifies the pipeline stage that produced a successful parse, or
// MethodCorrupted when every stage failed.
type Method string

const (
	MethodClean                = Method("CLEAN")
	MethodCleanPreprocessing   = Method("CLEAN_PREPROCESSING")
	MethodQuoteRepair          = Method("QUOTE_REPAIR")
	MethodDirtyJSON            = Method("DIRTY_JSON")
	MethodDirtyJSONQuoteRepair = Method("DIRTY_JSON_QUOTE_REPAIR")
	MethodCorrupted            = Method("CORRUPTED")
)

// ErrNotArray indicates a parse that succeeded but did not yield an array.
// Downstream code only understands arrays of posts, so this counts as a
// parse failure.
var ErrNotArray = errors.New("parsed value is not an array")

// Result is the outcome of one repair attempt.
type Result struct {
	Success bool
	Data    []models.Post
	Method  Method
	Err     error
}

// Parse runs the repair pipeline over an arbitrary payload value. Arrays
// short-circuit as already-clean; strings go through the cascade; anything
// else is corrupted outright.
func Parse(input any) Result {
	switch v := input.(type) {
	case []models.Post:
		return Result{Success: true, Data: v, Method: MethodClean}
	case []map[string]any:
		posts := make([]models.Post, len(v))
		for i, m := range v {
			posts[i] = models.Post(m)
		}
		return Result{Success: true, Data: posts, Method: MethodClean}
	case []any:
		posts, err := coercePosts(v)
		if err != nil {
			return Result{Method: MethodCorrupted, Err: err}
		}
		return Result{Success: true, Data: posts, Method: MethodClean}
	case string:
		return parseString(v)
	case nil:
		return Result{Method: MethodCorrupted, Err: errors.New("payload is empty")}
	default:
		return Result{Method: MethodCorrupted, Err: fmt.Errorf("unsupported payload type %T", input)}
	}
}

func parseString(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Method: MethodCorrupted, Err: errors.New("payload is empty")}
	}

	// Stage 1: strict parse as-is.
	if posts, err := strictParse(trimmed); err == nil {
		return Result{Success: true, Data: posts, Method: MethodClean}
	}

	// Stage 2: strip control characters and normalise line endings.
	cleaned := stripControlChars(trimmed)
	if posts, err := strictParse(cleaned); err == nil {
		return Result{Success: true, Data: posts, Method: MethodCleanPreprocessing}
	}

	// Stage 3: escape raw quotes inside postContent values.
	repaired := RepairQuotes(cleaned)
	if posts, err := strictParse(repaired); err == nil {
		return Result{Success: true, Data: posts, Method: MethodQuoteRepair}
	}

	// Stage 4: lenient parse of the cleaned string.
	if posts, err := lenientParse(cleaned); err == nil {
		return Result{Success: true, Data: posts, Method: MethodDirtyJSON}
	}

	// Stage 5: lenient parse of the quote-repaired string.
	if posts, err := lenientParse(repaired); err == nil {
		return Result{Success: true, Data: posts, Method: MethodDirtyJSONQuoteRepair}
	}

	_, strictErr := strictParse(trimmed)
	return Result{Method: MethodCorrupted, Err: fmt.Errorf("all repair strategies failed: %w", strictErr)}
}

// strictParse unmarshals and requires an array result.
func strictParse(s string) ([]models.Post, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, ErrNotArray
	}
	return coercePosts(arr)
}

// lenientParse uses gjson, which tolerates structural damage strict
// encoding/json rejects (trailing garbage, loose commas). The result must
// still be an array of objects.
func lenientParse(s string) ([]models.Post, error) {
	// gjson recovers prefixes of truncated arrays instead of failing; a
	// payload with unbalanced structure must stay corrupted rather than
	// silently lose posts.
	if !bracketsBalanced(s) {
		return nil, errors.New("unbalanced brackets or braces")
	}
	parsed := gjson.Parse(s)
	if !parsed.IsArray() {
		return nil, ErrNotArray
	}
	elems := parsed.Array()
	posts := make([]models.Post, 0, len(elems))
	for _, el := range elems {
		m, ok := el.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("array element is %s, not an object", el.Type)
		}
		posts = append(posts, models.Post(m))
	}
	if len(posts) == 0 && strings.Contains(s, "{") {
		// gjson silently drops elements it cannot recover; an "empty" array
		// parsed out of a string that clearly holds objects is a miss.
		return nil, errors.New("lenient parse recovered no elements")
	}
	return posts, nil
}

func coercePosts(arr []any) ([]models.Post, error) {
	posts := make([]models.Post, 0, len(arr))
	for i, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not an object", i, el)
		}
		posts = append(posts, models.Post(m))
	}
	return posts, nil
}

// stripControlChars removes NUL and C0/C1 control characters (keeping tab)
// and normalises CRLF/CR line endings to LF.
func stripControlChars(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' {
			sb.WriteRune(r)
			continue
		}
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// RepairQuotes escapes unescaped double quotes inside "postContent" string
// values. Collectors paste post bodies verbatim, so a post containing
// `he said "hi"` breaks the value's quoting. The closing quote of the value
// is recognised as a quote followed (after whitespace) by ',' '}' or ']'.
func RepairQuotes(s string) string {
	const marker = `"postContent"`
	var sb strings.Builder
	sb.Grow(len(s))

	rest := s
	for {
		idx := strings.Index(rest, marker)
		if idx == -1 {
			sb.WriteString(rest)
			return sb.String()
		}
		// Copy up to and including the marker, then find the value opening quote.
		valueStart := idx + len(marker)
		j := valueStart
		for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t' || rest[j] == '\n' || rest[j] == ':') {
			j++
		}
		if j >= len(rest) || rest[j] != '"' {
			sb.WriteString(rest[:valueStart])
			rest = rest[valueStart:]
			continue
		}
		sb.WriteString(rest[:j+1])

		// Scan the value, escaping quotes that are neither already escaped
		// nor the terminator.
		k := j + 1
		for k < len(rest) {
			c := rest[k]
			if c == '\\' && k+1 < len(rest) {
				sb.WriteByte(c)
				sb.WriteByte(rest[k+1])
				k += 2
				continue
			}
			if c == '"' {
				if isValueTerminator(rest, k+1) {
					sb.WriteByte(c)
					k++
					break
				}
				sb.WriteString(`\"`)
				k++
				continue
			}
			sb.WriteByte(c)
			k++
		}
		rest = rest[k:]
	}
}

// isValueTerminator reports whether the text following a closing quote looks
// like the end of a JSON string value: optional whitespace then ',' '}' ']'
// or end of input.
func isValueTerminator(s string, i int) bool {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n':
			i++
		case ',', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}
