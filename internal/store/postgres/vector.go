package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// vectorLiteral renders a float32 slice as a pgvector text literal, e.g. "[0.1,0.2]".
// Bound as text and cast with ::vector in SQL. Returns "" for a nil vector so
// the column stays NULL.
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVectorLiteral decodes a pgvector text literal back into a float32 slice.
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector literal %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}

	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
