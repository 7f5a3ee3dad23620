package protocol

import (
	"errors"
	"math"
	"math/big"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, as in Redis)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements in an aggregate
	maxArraySize = 1024 * 1024

	// maxDepth bounds aggregate nesting
	maxDepth = 128

	// maxLineSize bounds simple strings and length headers
	maxLineSize = 64 * 1024
)

// Limits bounds what the parser accepts before reporting a ProtocolError
type Limits struct {
	MaxBulkLen      int64
	MaxAggregateLen int64
	MaxDepth        int
	MaxLineLen      int
}

// DefaultLimits are used by Parse and by readers created with NewReader
var DefaultLimits = Limits{
	MaxBulkLen:      maxBulkSize,
	MaxAggregateLen: maxArraySize,
	MaxDepth:        maxDepth,
	MaxLineLen:      maxLineSize,
}

// Parse decodes exactly one value from the start of buf. It returns the
// value and the number of bytes it occupied. If buf ends before the frame
// does, Parse returns ErrIncomplete and the caller should retry with more
// data from the same position. Malformed input yields a *ProtocolError.
//
// Returned values never alias buf.
func Parse(buf []byte) (Value, int, error) {
	return ParseWithLimits(buf, DefaultLimits)
}

// ParseWithLimits is Parse with explicit size limits
func ParseWithLimits(buf []byte, limits Limits) (Value, int, error) {
	p := parser{buf: buf, limits: limits}
	v, err := p.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, p.pos, nil
}

// ParseSnapshot decodes the `$<len>\r\n<payload>` frame a master sends after
// FULLRESYNC. Unlike a bulk string the payload is not followed by CRLF.
func ParseSnapshot(buf []byte) ([]byte, int, error) {
	return parseSnapshot(buf, DefaultLimits)
}

func parseSnapshot(buf []byte, limits Limits) ([]byte, int, error) {
	p := parser{buf: buf, limits: limits}
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}
	if buf[0] != byte(TypeBulkString) {
		return nil, 0, protoErr(0, buf[0], "'$' snapshot header")
	}
	p.pos = 1
	n, err := p.length(false)
	if err != nil {
		return nil, 0, err
	}
	if len(buf)-p.pos < int(n) {
		return nil, 0, ErrIncomplete
	}
	data := make([]byte, n)
	copy(data, buf[p.pos:p.pos+int(n)])
	return data, p.pos + int(n), nil
}

type parser struct {
	buf    []byte
	pos    int
	limits Limits
}

func (p *parser) value(depth int) (Value, error) {
	if p.pos >= len(p.buf) {
		return Value{}, ErrIncomplete
	}
	if depth > p.limits.MaxDepth {
		return Value{}, protoErr(p.pos, 0, "shallower nesting")
	}

	marker := ValueType(p.buf[p.pos])
	p.pos++

	switch marker {
	case TypeSimpleString, TypeError:
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: marker, Data: clone(line)}, nil

	case TypeInteger:
		start := p.pos
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		n, ok := parseInt64(line)
		if !ok {
			return Value{}, protoErr(start, firstByte(line), "64-bit integer")
		}
		return Integer(n), nil

	case TypeBigNumber:
		start := p.pos
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		if !isInteger(line) {
			return Value{}, protoErr(start, firstByte(line), "big number digits")
		}
		n, ok := new(big.Int).SetString(string(line), 10)
		if !ok {
			return Value{}, protoErr(start, firstByte(line), "big number digits")
		}
		return Value{Type: TypeBigNumber, Big: n}, nil

	case TypeDouble:
		start := p.pos
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		f, ok := parseDouble(line)
		if !ok {
			return Value{}, protoErr(start, firstByte(line), "double")
		}
		return Double(f), nil

	case TypeBoolean:
		start := p.pos
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		if len(line) != 1 || (line[0] != 't' && line[0] != 'f') {
			return Value{}, protoErr(start, firstByte(line), "'t' or 'f'")
		}
		return Boolean(line[0] == 't'), nil

	case TypeNull:
		start := p.pos
		line, err := p.line()
		if err != nil {
			return Value{}, err
		}
		if len(line) != 0 {
			return Value{}, protoErr(start, line[0], "CRLF after null")
		}
		return Null(), nil

	case TypeBulkString, TypeBulkError, TypeVerbatimString:
		return p.bulk(marker)

	case TypeArray, TypeSet, TypePush:
		n, err := p.length(true)
		if err != nil {
			return Value{}, err
		}
		if n == -1 {
			return Value{Type: marker, IsNull: true}, nil
		}
		if n > p.limits.MaxAggregateLen {
			return Value{}, protoErr(p.pos, 0, "aggregate length within limits")
		}
		items := make([]Value, 0, capHint(n))
		for i := int64(0); i < n; i++ {
			item, err := p.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Type: marker, Array: items}, nil

	case TypeMap:
		n, err := p.length(false)
		if err != nil {
			return Value{}, err
		}
		if n > p.limits.MaxAggregateLen {
			return Value{}, protoErr(p.pos, 0, "aggregate length within limits")
		}
		entries := make([]MapEntry, 0, capHint(n))
		for i := int64(0); i < n; i++ {
			k, err := p.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			v, err := p.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, MapEntry{Key: k, Value: v})
		}
		return Map(entries...), nil

	default:
		return Value{}, protoErr(p.pos-1, byte(marker), "RESP type marker")
	}
}

func (p *parser) bulk(marker ValueType) (Value, error) {
	n, err := p.length(true)
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: marker, IsNull: true}, nil
	}
	if n > p.limits.MaxBulkLen {
		return Value{}, protoErr(p.pos, 0, "bulk length within limits")
	}
	if int64(len(p.buf)-p.pos) < n+2 {
		return Value{}, ErrIncomplete
	}

	payload := p.buf[p.pos : p.pos+int(n)]
	end := p.pos + int(n)
	if p.buf[end] != '\r' {
		return Value{}, protoErr(end, p.buf[end], "CR after bulk payload")
	}
	if p.buf[end+1] != '\n' {
		return Value{}, protoErr(end+1, p.buf[end+1], "LF after bulk payload")
	}

	start := p.pos
	p.pos = end + 2

	switch marker {
	case TypeBulkError:
		return BulkError(clone(payload)), nil
	case TypeVerbatimString:
		if len(payload) < 4 || payload[3] != ':' {
			return Value{}, protoErr(start, firstByte(payload), "three byte format and ':'")
		}
		return Verbatim(string(payload[:3]), clone(payload[4:])), nil
	default:
		return BulkString(clone(payload)), nil
	}
}

// length reads a length header. A value of -1 is only accepted when
// allowNull is set.
func (p *parser) length(allowNull bool) (int64, error) {
	start := p.pos
	line, err := p.line()
	if err != nil {
		return 0, err
	}
	n, ok := parseInt64(line)
	if !ok {
		return 0, protoErr(start, firstByte(line), "decimal length")
	}
	if n < 0 && !(n == -1 && allowNull) {
		return 0, protoErr(start, firstByte(line), "non-negative length")
	}
	return n, nil
}

// line returns the bytes up to the next CRLF and advances past it
func (p *parser) line() ([]byte, error) {
	for i := p.pos; i < len(p.buf); i++ {
		if i-p.pos > p.limits.MaxLineLen {
			return nil, protoErr(i, p.buf[i], "CRLF within line limit")
		}
		switch p.buf[i] {
		case '\n':
			return nil, protoErr(i, '\n', "CR before LF")
		case '\r':
			if i+1 >= len(p.buf) {
				return nil, ErrIncomplete
			}
			if p.buf[i+1] != '\n' {
				return nil, protoErr(i+1, p.buf[i+1], "LF after CR")
			}
			line := p.buf[p.pos:i]
			p.pos = i + 2
			return line, nil
		}
	}
	return nil, ErrIncomplete
}

// parseInt64 parses a signed decimal integer and rejects int64 overflow
func parseInt64(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	var neg bool
	i := 0
	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}
	if i >= len(b) {
		return 0, false
	}

	limit := uint64(math.MaxInt64)
	if neg {
		limit++
	}

	var n uint64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, false
		}
		d := uint64(b[i] - '0')
		if n > (limit-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}

	if neg {
		return -int64(n), true
	}
	return int64(n), true
}

func isInteger(b []byte) bool {
	if len(b) > 0 && (b[0] == '-' || b[0] == '+') {
		b = b[1:]
	}
	return len(b) > 0 && digits(b) == len(b)
}

// digits counts the leading ASCII digits of b
func digits(b []byte) int {
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		n++
	}
	return n
}

// parseDouble accepts [+-]digits[.digits][(e|E)[+-]digits] and inf, -inf, nan
func parseDouble(b []byte) (float64, bool) {
	switch string(b) {
	case "inf", "+inf":
		return math.Inf(1), true
	case "-inf":
		return math.Inf(-1), true
	case "nan":
		return math.NaN(), true
	}

	i := 0
	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}
	n := digits(b[i:])
	if n == 0 {
		return 0, false
	}
	i += n
	if i < len(b) && b[i] == '.' {
		i++
		i += digits(b[i:])
	}
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		i++
		if i < len(b) && (b[i] == '-' || b[i] == '+') {
			i++
		}
		n = digits(b[i:])
		if n == 0 {
			return 0, false
		}
		i += n
	}
	if i != len(b) {
		return 0, false
	}

	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// capHint keeps a hostile length header from forcing a large allocation
func capHint(n int64) int {
	if n > 1024 {
		return 1024
	}
	return int(n)
}
