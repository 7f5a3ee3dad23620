package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithSimpleStringOptimization makes the writer emit bulk strings that
// contain no CR or LF as simple strings
func WithSimpleStringOptimization() WriterOption {
	return func(w *Writer) {
		w.simpleStrings = true
	}
}

// WithBigNumberFallback makes WriteBigInt emit integers that do not fit in
// 64 bits as simple strings, for peers that only speak RESP2
func WithBigNumberFallback() WriterOption {
	return func(w *Writer) {
		w.bigFallback = true
	}
}

// Writer provides efficient writing of RESP protocol messages
type Writer struct {
	bw            *bufio.Writer
	simpleStrings bool
	bigFallback   bool
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	wr := &Writer{
		bw: bufio.NewWriter(w),
	}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

// Encode returns the wire encoding of v
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteValue(v); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeCommand returns argv encoded as an array of bulk strings
func EncodeCommand(argv [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(argv)))
	buf.WriteString(CRLF)
	for _, arg := range argv {
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(arg)))
		buf.WriteString(CRLF)
		buf.Write(arg)
		buf.WriteString(CRLF)
	}
	return buf.Bytes()
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.WriteSimpleString(string(v.Data))
	case TypeError:
		return w.WriteError(string(v.Data))
	case TypeInteger:
		return w.WriteInteger(v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return w.WriteNullBulkString()
		}
		return w.WriteBulkString(v.Data)
	case TypeArray:
		if v.IsNull {
			return w.WriteNullArray()
		}
		return w.WriteArray(v.Array)
	case TypeSet, TypePush:
		if v.IsNull {
			return w.writeLine(v.Type, "-1")
		}
		return w.writeAggregate(v.Type, v.Array)
	case TypeMap:
		return w.WriteMap(v.Map)
	case TypeNull:
		return w.WriteNull()
	case TypeBoolean:
		return w.WriteBoolean(v.Bool)
	case TypeDouble:
		return w.WriteDouble(v.Float)
	case TypeBigNumber:
		if v.Big == nil {
			return w.writeLine(TypeBigNumber, "0")
		}
		return w.writeLine(TypeBigNumber, v.Big.String())
	case TypeBulkError, TypeVerbatimString:
		if v.IsNull {
			return w.writeLine(v.Type, "-1")
		}
		if v.Type == TypeBulkError {
			return w.writeBulk(TypeBulkError, v.Data)
		}
		return w.WriteVerbatim(v.Format, v.Data)
	default:
		return fmt.Errorf("unsupported value type: %s", v.Type)
	}
}

// WriteSimpleString writes a simple string. A string containing CR or LF
// cannot be framed as a line and is written as a bulk string instead.
func (w *Writer) WriteSimpleString(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return w.WriteBulkString([]byte(s))
	}
	return w.writeLine(TypeSimpleString, s)
}

// WriteError writes an error message. CR and LF are replaced with spaces
// so the message cannot break framing.
func (w *Writer) WriteError(msg string) error {
	return w.writeLine(TypeError, SanitizeError(msg))
}

// SanitizeError replaces line terminators in an error message with spaces
func SanitizeError(msg string) string {
	if !strings.ContainsAny(msg, "\r\n") {
		return msg
	}
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.writeLine(TypeInteger, strconv.FormatInt(n, 10))
}

// WriteBigInt writes n as an integer when it fits in 64 bits and as a big
// number otherwise
func (w *Writer) WriteBigInt(n *big.Int) error {
	if n.IsInt64() {
		return w.WriteInteger(n.Int64())
	}
	if w.bigFallback {
		return w.WriteSimpleString(n.String())
	}
	return w.writeLine(TypeBigNumber, n.String())
}

// WriteDouble writes a double
func (w *Writer) WriteDouble(f float64) error {
	return w.writeLine(TypeDouble, formatDouble(f))
}

// WriteBoolean writes a boolean
func (w *Writer) WriteBoolean(b bool) error {
	if b {
		return w.writeLine(TypeBoolean, "t")
	}
	return w.writeLine(TypeBoolean, "f")
}

// WriteNull writes the RESP3 null
func (w *Writer) WriteNull() error {
	return w.writeLine(TypeNull, "")
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	if w.simpleStrings && !bytes.ContainsAny(data, "\r\n") {
		return w.WriteSimpleString(string(data))
	}
	return w.writeBulk(TypeBulkString, data)
}

// WriteBulkStringFromString writes a bulk string from a string
func (w *Writer) WriteBulkStringFromString(s string) error {
	return w.WriteBulkString([]byte(s))
}

// WriteVerbatim writes a verbatim string; format must be three bytes
func (w *Writer) WriteVerbatim(format string, text []byte) error {
	if len(format) != 3 {
		return fmt.Errorf("verbatim format must be 3 bytes, got %q", format)
	}
	payload := make([]byte, 0, len(text)+4)
	payload = append(payload, format...)
	payload = append(payload, ':')
	payload = append(payload, text...)
	return w.writeBulk(TypeVerbatimString, payload)
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	return w.writeLine(TypeBulkString, "-1")
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.writeAggregate(TypeArray, values)
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	return w.writeLine(TypeArray, "-1")
}

// WriteMap writes a map in slice order
func (w *Writer) WriteMap(entries []MapEntry) error {
	if err := w.writeLine(TypeMap, strconv.Itoa(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.WriteValue(e.Key); err != nil {
			return err
		}
		if err := w.WriteValue(e.Value); err != nil {
			return err
		}
	}
	return nil
}

// WriteCommand writes a Redis command as a RESP array
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	if err := w.writeLine(TypeArray, strconv.Itoa(1+len(args))); err != nil {
		return err
	}
	if err := w.writeBulk(TypeBulkString, []byte(cmd)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.writeBulk(TypeBulkString, []byte(arg)); err != nil {
			return err
		}
	}
	return nil
}

// WriteSnapshot writes a full resync payload: a bulk header followed by the
// raw bytes with no trailing CRLF
func (w *Writer) WriteSnapshot(blob []byte) error {
	if err := w.writeLine(TypeBulkString, strconv.Itoa(len(blob))); err != nil {
		return err
	}
	_, err := w.bw.Write(blob)
	return err
}

// WriteRaw writes pre-encoded bytes
func (w *Writer) WriteRaw(p []byte) error {
	_, err := w.bw.Write(p)
	return err
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteSimpleString("OK")
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}

func (w *Writer) writeAggregate(t ValueType, values []Value) error {
	if err := w.writeLine(t, strconv.Itoa(len(values))); err != nil {
		return err
	}
	for _, value := range values {
		if err := w.WriteValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeBulk(t ValueType, data []byte) error {
	if err := w.writeLine(t, strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	_, err := w.bw.WriteString(CRLF)
	return err
}

func (w *Writer) writeLine(t ValueType, s string) error {
	if err := w.bw.WriteByte(byte(t)); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	_, err := w.bw.WriteString(CRLF)
	return err
}
