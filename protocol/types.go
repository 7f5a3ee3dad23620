package protocol

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value. The numeric value of each
// type is its wire marker.
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 value types
	TypeNull           ValueType = '_'
	TypeBoolean        ValueType = '#'
	TypeDouble         ValueType = ','
	TypeBigNumber      ValueType = '('
	TypeBulkError      ValueType = '!'
	TypeVerbatimString ValueType = '='
	TypeMap            ValueType = '%'
	TypeSet            ValueType = '~'
	TypePush           ValueType = '>'
)

// String returns a human readable name for the type
func (t ValueType) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeBigNumber:
		return "big-number"
	case TypeBulkError:
		return "bulk-error"
	case TypeVerbatimString:
		return "verbatim-string"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte // strings, errors and verbatim text
	Format  string // verbatim string format, exactly three bytes
	Integer int64
	Big     *big.Int
	Float   float64
	Bool    bool
	Array   []Value // array, set and push elements
	Map     []MapEntry
	IsNull  bool
}

// MapEntry is a single key/value pair of a RESP3 map
type MapEntry struct {
	Key   Value
	Value Value
}

// SimpleString builds a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// Error builds an error value
func Error(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// BulkError builds a RESP3 bulk error value
func BulkError(msg []byte) Value {
	return Value{Type: TypeBulkError, Data: msg}
}

// BulkString builds a bulk string value
func BulkString(data []byte) Value {
	if data == nil {
		data = []byte{}
	}
	return Value{Type: TypeBulkString, Data: data}
}

// BulkStringFromString builds a bulk string value from a string
func BulkStringFromString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulk builds the null bulk string ($-1)
func NullBulk() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// NullArray builds the null array (*-1)
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// Null builds the RESP3 null (_)
func Null() Value {
	return Value{Type: TypeNull, IsNull: true}
}

// Integer builds an integer value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// BigNumber builds a big number value
func BigNumber(n *big.Int) Value {
	return Value{Type: TypeBigNumber, Big: new(big.Int).Set(n)}
}

// Double builds a double value
func Double(f float64) Value {
	return Value{Type: TypeDouble, Float: f}
}

// Boolean builds a boolean value
func Boolean(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// Verbatim builds a verbatim string value such as txt:hello
func Verbatim(format string, text []byte) Value {
	return Value{Type: TypeVerbatimString, Format: format, Data: text}
}

// Array builds an array value
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// Set builds a set value
func Set(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeSet, Array: values}
}

// Push builds a push value
func Push(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypePush, Array: values}
}

// Map builds a map value
func Map(entries ...MapEntry) Value {
	if entries == nil {
		entries = []MapEntry{}
	}
	return Value{Type: TypeMap, Map: entries}
}

// String returns a string representation of the value
func (v Value) String() string {
	if v.IsNull {
		return "(nil)"
	}
	switch v.Type {
	case TypeSimpleString, TypeError, TypeBulkString, TypeBulkError:
		return string(v.Data)
	case TypeVerbatimString:
		return v.Format + ":" + string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBigNumber:
		if v.Big == nil {
			return "0"
		}
		return v.Big.String()
	case TypeDouble:
		return formatDouble(v.Float)
	case TypeBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeArray, TypeSet, TypePush:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeMap:
		parts := make([]string, len(v.Map))
		for i, e := range v.Map {
			parts[i] = e.Key.String() + ": " + e.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Text returns the payload of a simple or bulk string. The two encodings are
// interchangeable on the wire, so callers should prefer Text over inspecting
// the type.
func (v Value) Text() ([]byte, bool) {
	switch v.Type {
	case TypeSimpleString, TypeBulkString, TypeVerbatimString:
		if v.IsNull {
			return nil, false
		}
		return v.Data, true
	default:
		return nil, false
	}
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError || v.Type == TypeBulkError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.IsError() {
		return string(v.Data)
	}
	return ""
}

// IsZero reports whether v is the zero Value, which carries no wire type
func (v Value) IsZero() bool {
	return v.Type == 0
}

// Equal reports whether v and o decode from equivalent encodings. Simple and
// bulk strings with the same payload are equal. Sets and maps compare
// without regard to element order. Doubles compare bit for bit, so 0 and -0
// differ, while any two NaNs are equal.
func (v Value) Equal(o Value) bool {
	if v.isString() && o.isString() {
		return v.IsNull == o.IsNull && bytes.Equal(v.Data, o.Data)
	}
	if v.Type != o.Type || v.IsNull != o.IsNull {
		return false
	}
	if v.IsNull {
		return true
	}

	switch v.Type {
	case TypeError, TypeBulkError:
		return bytes.Equal(v.Data, o.Data)
	case TypeVerbatimString:
		return v.Format == o.Format && bytes.Equal(v.Data, o.Data)
	case TypeInteger:
		return v.Integer == o.Integer
	case TypeBigNumber:
		if v.Big == nil || o.Big == nil {
			return v.Big == o.Big
		}
		return v.Big.Cmp(o.Big) == 0
	case TypeDouble:
		if math.IsNaN(v.Float) && math.IsNaN(o.Float) {
			return true
		}
		return math.Float64bits(v.Float) == math.Float64bits(o.Float)
	case TypeBoolean:
		return v.Bool == o.Bool
	case TypeArray, TypePush:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case TypeSet:
		return unorderedEqual(len(v.Array), len(o.Array), func(i, j int) bool {
			return v.Array[i].Equal(o.Array[j])
		})
	case TypeMap:
		return unorderedEqual(len(v.Map), len(o.Map), func(i, j int) bool {
			return v.Map[i].Key.Equal(o.Map[j].Key) && v.Map[i].Value.Equal(o.Map[j].Value)
		})
	default:
		return false
	}
}

func (v Value) isString() bool {
	return v.Type == TypeSimpleString || v.Type == TypeBulkString
}

// unorderedEqual matches every left element to a distinct right element
func unorderedEqual(n, m int, eq func(i, j int) bool) bool {
	if n != m {
		return false
	}
	used := make([]bool, m)
	for i := 0; i < n; i++ {
		found := false
		for j := 0; j < m; j++ {
			if !used[j] && eq(i, j) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	// Name is the upper-cased command name
	Name string
	// Args holds the arguments after the name
	Args [][]byte
	// Argv is the command exactly as received, name included
	Argv [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrInvalidCommand, v.Type)
	}
	if len(v.Array) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	argv := make([][]byte, len(v.Array))
	for i, item := range v.Array {
		data, ok := item.Text()
		if !ok {
			return nil, fmt.Errorf("%w: command arguments must be bulk strings", ErrInvalidCommand)
		}
		argv[i] = data
	}

	return &Command{
		Name: strings.ToUpper(string(argv[0])),
		Args: argv[1:],
		Argv: argv,
	}, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}
