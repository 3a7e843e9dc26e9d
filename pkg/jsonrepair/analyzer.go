package jsonrepair

// Severity classifies how damaged a payload looks before any parse attempt.
// Diagnostic only; the repair pipeline does not branch on it.
type Severity string

const (
	SeverityClean     = Severity("CLEAN")
	SeverityDirty     = Severity("DIRTY")
	SeverityCorrupted = Severity("CORRUPTED")
)

// Analysis is the diagnostic report for one payload string.
type Analysis struct {
	Severity         Severity
	BalancedBrackets bool
	OddQuoteCount    bool
	HasControlChars  bool
	Length           int
}

// Analyze inspects a payload without parsing it. Unbalanced structure or an
// odd number of quotes means the payload is corrupted; control characters
// alone mean it is dirty but likely repairable.
func Analyze(s string) Analysis {
	a := Analysis{
		BalancedBrackets: bracketsBalanced(s),
		OddQuoteCount:    quoteCount(s)%2 == 1,
		HasControlChars:  hasControlChars(s),
		Length:           len(s),
	}
	switch {
	case !a.BalancedBrackets || a.OddQuoteCount:
		a.Severity = SeverityCorrupted
	case a.HasControlChars:
		a.Severity = SeverityDirty
	default:
		a.Severity = SeverityClean
	}
	return a
}

// bracketsBalanced tracks bracket/brace depth outside string values. Quote
// state is best-effort: payloads with broken quoting will misattribute some
// brackets, which errs toward reporting damage.
func bracketsBalanced(s string) bool {
	depthSquare, depthCurly := 0, 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && inString {
			i++
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '[':
			depthSquare++
		case ']':
			depthSquare--
		case '{':
			depthCurly++
		case '}':
			depthCurly--
		}
		if depthSquare < 0 || depthCurly < 0 {
			return false
		}
	}
	return depthSquare == 0 && depthCurly == 0
}

func quoteCount(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			n++
		}
	}
	return n
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			return true
		}
	}
	return false
}
