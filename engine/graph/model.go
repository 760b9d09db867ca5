// Package graph maintains the law citation graph in Neo4j. Statutes are
// nodes keyed by law number; a CITES edge records that one law's text
// refers to another law by name.
package graph

// Law is a statute node in the citation graph.
type Law struct {
	LawNo    string `json:"law_no"`
	Name     string `json:"name"`
	Category int    `json:"category,omitempty"`
}

// Citation is a directed CITES reference from one law to another.
type Citation struct {
	FromNo string `json:"from_no"`
	ToNo   string `json:"to_no"`
	ToName string `json:"to_name,omitempty"`
}

// Stats summarizes the stored graph.
type Stats struct {
	Laws      int64 `json:"laws"`
	Citations int64 `json:"citations"`
}

// lawToMap flattens a Law into Neo4j node properties.
func lawToMap(l Law) map[string]any {
	return map[string]any{
		"law_no":   l.LawNo,
		"name":     l.Name,
		"category": l.Category,
	}
}

// lawFromProps constructs a Law from Neo4j node properties.
func lawFromProps(props map[string]any) Law {
	l := Law{
		LawNo: strProp(props, "law_no"),
		Name:  strProp(props, "name"),
	}
	if c, ok := props["category"].(int64); ok {
		l.Category = int(c)
	}
	return l
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}
