package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Table names an auth table.
type Table string

const (
	TableUsers             Table = "users"
	TableAccounts          Table = "authAccounts"
	TableSessions          Table = "authSessions"
	TableRefreshTokens     Table = "authRefreshTokens"
	TableVerificationCodes Table = "authVerificationCodes"
	TableVerifiers         Table = "authVerifiers"
	TableRateLimits        Table = "authRateLimits"
)

// Index names used by the auth core. No other queries are issued.
const (
	IndexEmail                = "email"
	IndexPhone                = "phone"
	IndexUserIDAndProvider    = "userIdAndProvider"
	IndexProviderAndAccountID = "providerAndAccountId"
	IndexUserID               = "userId"
	IndexSessionID            = "sessionId"
	IndexAccountID            = "accountId"
	IndexCode                 = "code"
	IndexSignature            = "signature"
	IndexIdentifier           = "identifier"
)

// Index declares an ordered list of document fields.
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Schema lists every table and its indexes.
var Schema = map[Table][]Index{
	TableUsers: {
		{Name: IndexEmail, Fields: []string{"email"}},
		{Name: IndexPhone, Fields: []string{"phone"}},
	},
	TableAccounts: {
		{Name: IndexUserIDAndProvider, Fields: []string{"userId", "provider"}},
		{Name: IndexProviderAndAccountID, Fields: []string{"provider", "providerAccountId"}, Unique: true},
	},
	TableSessions: {
		{Name: IndexUserID, Fields: []string{"userId"}},
	},
	TableRefreshTokens: {
		{Name: IndexSessionID, Fields: []string{"sessionId"}},
	},
	TableVerificationCodes: {
		{Name: IndexAccountID, Fields: []string{"accountId"}},
		{Name: IndexCode, Fields: []string{"code"}},
	},
	TableVerifiers: {
		{Name: IndexSignature, Fields: []string{"signature"}},
	},
	TableRateLimits: {
		{Name: IndexIdentifier, Fields: []string{"identifier"}, Unique: true},
	},
}

// Tables returns the schema tables in a stable order.
func Tables() []Table {
	return []Table{
		TableUsers,
		TableAccounts,
		TableSessions,
		TableRefreshTokens,
		TableVerificationCodes,
		TableVerifiers,
		TableRateLimits,
	}
}

// LookupIndex resolves an index declaration and checks the query arity.
func LookupIndex(table Table, name string, nvalues int) (Index, error) {
	indexes, ok := Schema[table]
	if !ok {
		return Index{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	for _, idx := range indexes {
		if idx.Name != name {
			continue
		}
		if nvalues > len(idx.Fields) {
			return Index{}, fmt.Errorf("%w: %s.%s takes %d", ErrIndexArity, table, name, len(idx.Fields))
		}
		return idx, nil
	}
	return Index{}, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, table, name)
}

// CheckTable reports ErrUnknownTable for tables outside Schema.
func CheckTable(table Table) error {
	if _, ok := Schema[table]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

// EncodeKey canonicalizes index values into a single comparable key.
// Values are JSON encoded so that the string "1" and the number 1 differ.
func EncodeKey(values []any) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		parts[i] = string(raw)
	}
	return strings.Join(parts, "\x1f"), nil
}

// IndexValues extracts the first n field values of idx from a document.
// ok is false when any of those fields is absent, in which case the
// document is not reachable through that index prefix.
func IndexValues(fields map[string]any, idx Index, n int) ([]any, bool) {
	if n > len(idx.Fields) {
		n = len(idx.Fields)
	}
	values := make([]any, 0, n)
	for _, name := range idx.Fields[:n] {
		v, ok := fields[name]
		if !ok || v == nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// DocumentFields converts an arbitrary document value into a field map,
// dropping the reserved fields so callers cannot forge them.
func DocumentFields(doc any) (map[string]any, error) {
	var fields map[string]any
	switch d := doc.(type) {
	case map[string]any:
		fields = make(map[string]any, len(d))
		for k, v := range d {
			fields[k] = v
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		fields = map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	default:
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("store: document must encode to a JSON object: %w", err)
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}
	delete(fields, FieldID)
	delete(fields, FieldCreationTime)
	return fields, nil
}

// ApplyPatch merges patch into fields. Nil values remove keys.
func ApplyPatch(fields map[string]any, patch map[string]any) (map[string]any, error) {
	normalized, err := DocumentFields(patch)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields)+len(normalized))
	for k, v := range fields {
		out[k] = v
	}
	for k := range patch {
		if patch[k] == nil {
			delete(out, k)
			continue
		}
		if k == FieldID || k == FieldCreationTime {
			continue
		}
		out[k] = normalized[k]
	}
	return out, nil
}
