// Package query implements CodexQL, a small textual query language for
// inspecting a Document's converged layer state without writing Go: an
// operator's CLI tool for looking at what a codex currently holds.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codexsync/codex/internal/document"
)

// Parser parses CodexQL query strings.
type Parser struct{}

// Parse parses a single CodexQL statement.
func (p *Parser) Parse(query string) (*Query, error) {
	query = strings.TrimSpace(query)
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return nil, fmt.Errorf("codexql: empty query")
	}

	cmd := strings.ToUpper(parts[0])
	if cmd != "GET" {
		return nil, fmt.Errorf("codexql: unknown command %q", cmd)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("codexql: GET requires a layer")
	}

	layer := strings.ToUpper(parts[1])
	switch layer {
	case "METADATA":
		return p.parseGetMetadata(parts[2:])
	case "REFERENCES":
		return &Query{Type: QueryGetReferences}, nil
	case "TEXT":
		return p.parseGetText(parts[2:])
	case "TREE":
		return p.parseGetTree(parts[2:])
	default:
		return nil, fmt.Errorf("codexql: unknown layer %q", layer)
	}
}

func (p *Parser) parseGetMetadata(parts []string) (*Query, error) {
	var filters []Filter
	var limit int

	i := 0
	for i < len(parts) {
		switch strings.ToUpper(parts[i]) {
		case "WHERE":
			i++
		case "LIMIT":
			i++
			if i < len(parts) {
				if l, err := strconv.Atoi(parts[i]); err == nil {
					limit = l
				}
				i++
			}
		default:
			if i+2 >= len(parts) {
				return nil, fmt.Errorf("codexql: malformed WHERE clause")
			}
			key := parts[i]
			operator := parts[i+1]
			valueStr := strings.Trim(parts[i+2], "\"")
			filters = append(filters, Filter{Key: key, Operator: operator, Value: parseScalar(valueStr)})
			i += 3
		}
	}

	return &Query{Type: QueryGetMetadata, Filters: filters, Limit: limit}, nil
}

func (p *Parser) parseGetText(parts []string) (*Query, error) {
	if len(parts) < 1 {
		return nil, fmt.Errorf("codexql: GET TEXT requires a field name")
	}
	return &Query{Type: QueryGetText, Field: parts[0]}, nil
}

func (p *Parser) parseGetTree(parts []string) (*Query, error) {
	if len(parts) < 2 {
		return nil, fmt.Errorf("codexql: GET TREE requires CHILDREN|PARENT <node>")
	}
	switch strings.ToUpper(parts[0]) {
	case "CHILDREN":
		return &Query{Type: QueryGetTreeChildren, Node: parts[1]}, nil
	case "PARENT":
		return &Query{Type: QueryGetTreeParent, Node: parts[1]}, nil
	default:
		return nil, fmt.Errorf("codexql: unknown TREE subcommand %q", parts[0])
	}
}

func parseScalar(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}

// QueryType enumerates the layers CodexQL can read.
type QueryType int

const (
	QueryGetMetadata QueryType = iota
	QueryGetReferences
	QueryGetText
	QueryGetTreeChildren
	QueryGetTreeParent
)

// Filter is a single WHERE clause predicate over a metadata key.
type Filter struct {
	Key      string
	Operator string
	Value    any
}

// Query is a parsed CodexQL statement.
type Query struct {
	Type    QueryType
	Filters []Filter
	Limit   int
	Field   string
	Node    string
}

// Execute runs the query against a live Document, choosing an execution
// strategy via the optimizer for GET METADATA (direct key lookup when
// possible, full snapshot scan otherwise).
func (q *Query) Execute(doc *document.Document) (any, error) {
	metaLayer, refLayer, textLayer, treeLayer := doc.Layers()

	switch q.Type {
	case QueryGetMetadata:
		plan := NewOptimizer().Optimize(q)
		return executeMetadataPlan(plan, metaLayer)
	case QueryGetReferences:
		return refLayer.Snapshot(), nil
	case QueryGetText:
		return textLayer.Value(q.Field), nil
	case QueryGetTreeChildren:
		return treeLayer.Children(q.Node), nil
	case QueryGetTreeParent:
		parent, position, ok := treeLayer.Parent(q.Node)
		if !ok {
			return nil, fmt.Errorf("codexql: node %q has no parent", q.Node)
		}
		return map[string]string{"parent": parent, "position": position}, nil
	default:
		return nil, fmt.Errorf("codexql: unsupported query type")
	}
}

func matchesFilter(value any, filter Filter) bool {
	switch filter.Operator {
	case "=":
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", filter.Value)
	case "!=":
		return fmt.Sprintf("%v", value) != fmt.Sprintf("%v", filter.Value)
	case ">":
		return compareValues(value, filter.Value) > 0
	case "<":
		return compareValues(value, filter.Value) < 0
	case ">=":
		return compareValues(value, filter.Value) >= 0
	case "<=":
		return compareValues(value, filter.Value) <= 0
	case "CONTAINS":
		return strings.Contains(fmt.Sprintf("%v", value), fmt.Sprintf("%v", filter.Value))
	default:
		return false
	}
}

func compareValues(a, b any) int {
	aStr := fmt.Sprintf("%v", a)
	bStr := fmt.Sprintf("%v", b)
	switch {
	case aStr < bStr:
		return -1
	case aStr > bStr:
		return 1
	default:
		return 0
	}
}
