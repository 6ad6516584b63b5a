// Package format converts values decoded by pgx into JSON-safe values that
// keep full precision and zone information.
//
// The rendering depends on the column type OID, not only the Go type: pgx
// returns time.Time for date, timestamp and timestamptz alike.
package format

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.999999"
)

// Decode converts one raw column value as received from the server. A nil
// raw value is SQL NULL. Types pgx has no codec for (enums, composites,
// domains over unknown types) are returned as their text form.
func Decode(m *pgtype.Map, oid uint32, formatCode int16, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch oid {
	case pgtype.XMLOID:
		// xml_send emits the document text in both formats.
		return string(raw), nil
	case pgtype.JSONOID, pgtype.JSONBOID, pgtype.JSONArrayOID, pgtype.JSONBArrayOID:
		v, err := decodeJSON(oid, formatCode, raw)
		if err != nil {
			return nil, err
		}
		return Value(m, v, oid), nil
	}
	dt, ok := m.TypeForOID(oid)
	if !ok {
		if formatCode == pgtype.TextFormatCode {
			return string(raw), nil
		}
		return ByteaHex(raw), nil
	}
	v, err := dt.Codec.DecodeValue(m, oid, formatCode, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", dt.Name, err)
	}
	return Value(m, v, oid), nil
}

// Value converts a decoded value. oid selects type-specific renderings and
// is used to find element types of arrays and ranges; pass 0 if unknown.
func Value(m *pgtype.Map, v any, oid uint32) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool, int16, int32, int64, int:
		return val
	case json.Number:
		return val
	case time.Time:
		return Time(val, oid)
	case float32:
		return Float(float64(val), val)
	case float64:
		return Float(val, val)
	case pgtype.Numeric:
		return Numeric(val)
	case pgtype.Date:
		if !val.Valid {
			return nil
		}
		if val.InfinityModifier != pgtype.Finite {
			return val.InfinityModifier.String()
		}
		return val.Time.Format(dateLayout)
	case pgtype.Timestamp:
		if !val.Valid {
			return nil
		}
		if val.InfinityModifier != pgtype.Finite {
			return val.InfinityModifier.String()
		}
		return val.Time.Format(timestampLayout)
	case pgtype.Timestamptz:
		if !val.Valid {
			return nil
		}
		if val.InfinityModifier != pgtype.Finite {
			return val.InfinityModifier.String()
		}
		return val.Time.UTC().Format(time.RFC3339Nano)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return ClockTime(val.Microseconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return Interval(val.Months, val.Days, val.Microseconds)
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return ByteaHex(val)
	case pgtype.Range[any]:
		return rangeText(m, val, elementOID(m, oid))
	case pgtype.Multirange[pgtype.Range[any]]:
		elem := elementOID(m, oid)
		parts := make([]string, len(val))
		for i, r := range val {
			parts[i] = fmt.Sprint(rangeText(m, r, elem))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case pgtype.Point:
		if !val.Valid {
			return nil
		}
		return point(val.P)
	case pgtype.Line:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("{%g,%g,%g}", val.A, val.B, val.C)
	case pgtype.Lseg:
		if !val.Valid {
			return nil
		}
		return "[" + point(val.P[0]) + "," + point(val.P[1]) + "]"
	case pgtype.Box:
		if !val.Valid {
			return nil
		}
		return point(val.P[0]) + "," + point(val.P[1])
	case pgtype.Path:
		if !val.Valid {
			return nil
		}
		joined := points(val.P)
		if val.Closed {
			return "(" + joined + ")"
		}
		return "[" + joined + "]"
	case pgtype.Polygon:
		if !val.Valid {
			return nil
		}
		return "(" + points(val.P) + ")"
	case pgtype.Circle:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("<%s,%g>", point(val.P), val.R)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		return Bits(val.Bytes, val.Len)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Value(m, item, 0)
		}
		return out
	case []any:
		elem := elementOID(m, oid)
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(m, item, elem)
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

// jsonTypes decodes json and jsonb with numbers kept as json.Number, so
// integers past 2^53 and long decimals survive. A Map caches scan plans and
// is not safe for concurrent use.
var jsonTypes = struct {
	sync.Mutex
	m *pgtype.Map
}{m: newJSONMap()}

func newJSONMap() *pgtype.Map {
	m := pgtype.NewMap()
	jsonType := &pgtype.Type{Name: "json", OID: pgtype.JSONOID, Codec: &pgtype.JSONCodec{Marshal: json.Marshal, Unmarshal: unmarshalUseNumber}}
	jsonbType := &pgtype.Type{Name: "jsonb", OID: pgtype.JSONBOID, Codec: &pgtype.JSONBCodec{Marshal: json.Marshal, Unmarshal: unmarshalUseNumber}}
	m.RegisterType(jsonType)
	m.RegisterType(jsonbType)
	m.RegisterType(&pgtype.Type{Name: "_json", OID: pgtype.JSONArrayOID, Codec: &pgtype.ArrayCodec{ElementType: jsonType}})
	m.RegisterType(&pgtype.Type{Name: "_jsonb", OID: pgtype.JSONBArrayOID, Codec: &pgtype.ArrayCodec{ElementType: jsonbType}})
	return m
}

func unmarshalUseNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeJSON(oid uint32, formatCode int16, raw []byte) (any, error) {
	jsonTypes.Lock()
	defer jsonTypes.Unlock()
	dt, _ := jsonTypes.m.TypeForOID(oid)
	v, err := dt.Codec.DecodeValue(jsonTypes.m, oid, formatCode, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", dt.Name, err)
	}
	return v, nil
}

// Time renders t according to the column type: date as YYYY-MM-DD,
// timestamp without zone, timestamptz as RFC 3339 in UTC.
func Time(t time.Time, oid uint32) string {
	switch oid {
	case pgtype.DateOID:
		return t.Format(dateLayout)
	case pgtype.TimestampOID:
		return t.Format(timestampLayout)
	case pgtype.TimestamptzOID:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.Format(time.RFC3339Nano)
}

// Float returns special values as strings; JSON has no NaN or Infinity.
// orig is returned unchanged for finite values so float4 keeps its width.
func Float(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return orig
}

// Numeric renders an arbitrary-precision numeric as a decimal string.
func Numeric(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	switch {
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	b, err := n.MarshalJSON()
	if err != nil {
		return nil
	}
	return string(b)
}

// ClockTime renders microseconds since midnight as HH:MM:SS[.ffffff].
func ClockTime(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Interval renders an interval as an ISO 8601 duration, the way PostgreSQL
// does with intervalstyle = iso_8601 (components carry their own sign).
func Interval(months, days int32, us int64) string {
	if months == 0 && days == 0 && us == 0 {
		return "PT0S"
	}
	var sb strings.Builder
	sb.WriteByte('P')
	if y := months / 12; y != 0 {
		fmt.Fprintf(&sb, "%dY", y)
	}
	if mo := months % 12; mo != 0 {
		fmt.Fprintf(&sb, "%dM", mo)
	}
	if days != 0 {
		fmt.Fprintf(&sb, "%dD", days)
	}
	if us != 0 {
		sb.WriteByte('T')
		h := us / 3_600_000_000
		us -= h * 3_600_000_000
		mi := us / 60_000_000
		us -= mi * 60_000_000
		if h != 0 {
			fmt.Fprintf(&sb, "%dH", h)
		}
		if mi != 0 {
			fmt.Fprintf(&sb, "%dM", mi)
		}
		if us != 0 {
			sb.WriteString(seconds(us))
			sb.WriteByte('S')
		}
	}
	return sb.String()
}

func seconds(us int64) string {
	sign := ""
	if us < 0 {
		sign = "-"
		us = -us
	}
	s := strconv.FormatInt(us/1_000_000, 10)
	if frac := us % 1_000_000; frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	return sign + s
}

// ByteaHex renders bytes in PostgreSQL's hex bytea format.
func ByteaHex(b []byte) string {
	return `\x` + hex.EncodeToString(b)
}

// Bits renders a bit string of n bits as 0s and 1s.
func Bits(b []byte, n int32) string {
	out := make([]byte, n)
	for i := int32(0); i < n; i++ {
		if b[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

func rangeText(m *pgtype.Map, r pgtype.Range[any], elem uint32) any {
	if !r.Valid {
		return nil
	}
	if r.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if r.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.LowerType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", Value(m, r.Lower, elem))
	}
	sb.WriteByte(',')
	if r.UpperType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", Value(m, r.Upper, elem))
	}
	if r.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

// elementOID returns the element type of an array, range or multirange
// type, or 0.
func elementOID(m *pgtype.Map, oid uint32) uint32 {
	if m == nil || oid == 0 {
		return 0
	}
	dt, ok := m.TypeForOID(oid)
	if !ok {
		return 0
	}
	switch c := dt.Codec.(type) {
	case *pgtype.ArrayCodec:
		return c.ElementType.OID
	case *pgtype.RangeCodec:
		return c.ElementType.OID
	case *pgtype.MultirangeCodec:
		return elementOID(m, c.ElementType.OID)
	}
	return 0
}

func point(p pgtype.Vec2) string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

func points(ps []pgtype.Vec2) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = point(p)
	}
	return strings.Join(parts, ",")
}
