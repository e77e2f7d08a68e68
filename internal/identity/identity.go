// Package identity computes the deterministic fingerprints (business-key
// hash, data hash, row-version) that the rest of the pipeline uses to
// recognize a record across syncs.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"lukechampine.com/blake3"

	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
)

// excludedFromDataHash lists fields never folded into the Data Hash
// (spec.md §4.1).
var excludedFromDataHash = map[string]bool{
	"created_at":          true,
	"updated_at":          true,
	"uid":                 true,
	"id":                  true,
	model.FieldKeyHash:    true,
	model.FieldDataHash:   true,
	model.FieldRowVersion: true,
}

// Stamp computes BK, DH, row-version, and the debug reference string for
// a normalized record and returns a new Record with those fields set.
//
// entityName is folded into the BK's canonical string so that two
// distinct entities sharing business-key field names never collide.
func Stamp(entityName string, r model.Record, businessKeyFields []string, rowVersionField string) (model.Record, error) {
	bk, refStr, err := BusinessKeyHash(entityName, r, businessKeyFields)
	if err != nil {
		return nil, err
	}

	out := r.Clone()
	out[model.FieldKeyHash] = bk
	out[model.FieldDataHash] = DataHash(r)
	out[model.FieldRefStr] = refStr
	out[model.FieldRowVersion] = extractRowVersion(r, rowVersionField)
	return out, nil
}

// BusinessKeyHash computes the 128-bit BK over the configured business-key
// fields, sorted lexicographically, plus the human-readable reference
// string built from the same fields (without the entity-name prefix).
//
// Returns an *errkind.Error of kind Identity when any business-key field
// is missing or null — BK determinism is a hard invariant, so a record
// with an incomplete identity can never produce one.
func BusinessKeyHash(entityName string, r model.Record, businessKeyFields []string) (bk string, refStr string, err error) {
	if len(businessKeyFields) == 0 {
		return "", "", errkind.New(errkind.Identity, "business_key_fields must be non-empty")
	}

	fields := append([]string(nil), businessKeyFields...)
	sort.Strings(fields)

	var canon strings.Builder
	var ref strings.Builder
	if entityName != "" {
		canon.WriteString(entityName)
		canon.WriteString("|")
	}
	for i, f := range fields {
		v, ok := r[f]
		if !ok || v == nil {
			return "", "", errkind.Newf(errkind.Identity, "missing business-key field %q", f).
				WithDetails(map[string]any{"entity": entityName, "field": f})
		}
		rendered := normalizedString(v)
		if i > 0 {
			canon.WriteString(" | ")
			ref.WriteString("|")
		}
		fmt.Fprintf(&canon, "%s=%s", f, rendered)
		fmt.Fprintf(&ref, "%s=%s", f, rendered)
	}

	sum := xxh3.Hash128([]byte(canon.String()))
	return hex.EncodeToString(uint128Bytes(sum)), ref.String(), nil
}

// uint128Bytes renders an xxh3.Uint128 as 16 big-endian bytes.
func uint128Bytes(u xxh3.Uint128) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], u.Hi)
	binary.BigEndian.PutUint64(b[8:], u.Lo)
	return b
}

// DataHash computes the 256-bit DH over every field except the
// exclusion set, nulls omitted, sorted lexicographically.
func DataHash(r model.Record) string {
	keys := make([]string, 0, len(r))
	for k, v := range r {
		if excludedFromDataHash[k] || v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var canon strings.Builder
	for i, k := range keys {
		if i > 0 {
			canon.WriteString("|")
		}
		fmt.Fprintf(&canon, "%s=%s", k, normalizedString(r[k]))
	}

	sum := blake3.Sum256([]byte(canon.String()))
	return hex.EncodeToString(sum[:])
}

// normalizedString renders a scalar (or composite) value per spec.md
// §4.1's Data Hash normalization rules, reused for the BK's reference
// string too since the rules are identical for scalars.
func normalizedString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		s := strconv.FormatFloat(val, 'f', 6, 64)
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
		return s
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		// Composite value: canonical compact JSON with sorted keys.
		b, err := canonicalJSON(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// canonicalJSON marshals v with map keys sorted (encoding/json already
// sorts map[string]any keys) and no insignificant whitespace.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Validate asserts that a stamped record's BK/DH have the expected
// hex-length encoding.
func Validate(r model.Record) error {
	bk := r.BusinessKeyHash()
	if len(bk) != 32 {
		return errkind.Newf(errkind.Identity, "business key hash must be 32 hex chars, got %d", len(bk))
	}
	dh := r.DataHash()
	if len(dh) != 64 {
		return errkind.Newf(errkind.Identity, "data hash must be 64 hex chars, got %d", len(dh))
	}
	return nil
}
