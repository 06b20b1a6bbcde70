package protocol

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// QueryKind selects how a statement is run by the server.
type QueryKind byte

const (
	// QueryKindQuery is an idempotent read and may be retried.
	QueryKindQuery QueryKind = 0
	// QueryKindCommand may modify data.
	QueryKindCommand QueryKind = 1
	// QueryKindExecute runs a script in a named language.
	QueryKindExecute QueryKind = 2
)

func (k QueryKind) String() string {
	switch k {
	case QueryKindQuery:
		return "query"
	case QueryKindCommand:
		return "command"
	case QueryKindExecute:
		return "execute"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// QueryRequest runs a statement and returns its first page. Params is a CBOR
// encoded map, see EncodeParams.
type QueryRequest struct {
	Kind      QueryKind
	Language  string
	Statement string
	Params    []byte
	PageSize  int32
}

func (*QueryRequest) Opcode() Opcode       { return OpQuery }
func (*QueryRequest) Policy() Policy       { return sessionPolicy }
func (*QueryRequest) NewResponse() Message { return &QueryResponse{} }
func (m *QueryRequest) Encode(e *Encoder) {
	e.Byte(byte(m.Kind))
	e.Text(m.Language)
	e.Text(m.Statement)
	e.Bytes(m.Params)
	e.Int32(m.PageSize)
}
func (m *QueryRequest) Decode(d *Decoder) {
	m.Kind = QueryKind(d.Byte())
	m.Language = d.Text()
	m.Statement = d.Text()
	m.Params = d.Bytes()
	m.PageSize = d.Int32()
}

// QueryResponse is one page of results. Rows are CBOR encoded maps.
// TxChanges is set when the statement modified the active transaction on
// the server.
type QueryResponse struct {
	QueryID     string
	TxChanges   bool
	Rows        [][]byte
	HasNextPage bool
	Stats       []byte
}

func (m *QueryResponse) Encode(e *Encoder) {
	e.Text(m.QueryID)
	e.Bool(m.TxChanges)
	e.Int32(int32(len(m.Rows)))
	for _, row := range m.Rows {
		e.Bytes(row)
	}
	e.Bool(m.HasNextPage)
	e.Bytes(m.Stats)
}
func (m *QueryResponse) Decode(d *Decoder) {
	m.QueryID = d.Text()
	m.TxChanges = d.Bool()
	n := d.Count()
	m.Rows = make([][]byte, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		m.Rows = append(m.Rows, d.Bytes())
	}
	m.HasNextPage = d.Bool()
	m.Stats = d.Bytes()
}

type NextPageRequest struct {
	QueryID  string
	PageSize int32
}

func (*NextPageRequest) Opcode() Opcode       { return OpNextPage }
func (*NextPageRequest) Policy() Policy       { return sessionPolicy }
func (*NextPageRequest) NewResponse() Message { return &QueryResponse{} }
func (m *NextPageRequest) Encode(e *Encoder) {
	e.Text(m.QueryID)
	e.Int32(m.PageSize)
}
func (m *NextPageRequest) Decode(d *Decoder) {
	m.QueryID = d.Text()
	m.PageSize = d.Int32()
}

type CloseQueryRequest struct {
	QueryID string
}

func (*CloseQueryRequest) Opcode() Opcode       { return OpCloseQuery }
func (*CloseQueryRequest) Policy() Policy       { return sessionPolicy }
func (*CloseQueryRequest) NewResponse() Message { return &EmptyResponse{} }
func (m *CloseQueryRequest) Encode(e *Encoder)  { e.Text(m.QueryID) }
func (m *CloseQueryRequest) Decode(d *Decoder)  { m.QueryID = d.Text() }

//-----------------------------------------------------------------------------
// CBOR payloads

// Row is one result row.
type Row map[string]interface{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeParams encodes statement parameters. Positional parameters given as
// a slice are sent as a map keyed by their index ("0", "1", ...). A nil
// value encodes to nil.
func EncodeParams(params interface{}) ([]byte, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		named := make(map[string]interface{}, len(p))
		for i, v := range p {
			named[strconv.Itoa(i)] = v
		}
		return cborEnc.Marshal(named)
	case map[string]interface{}:
		return cborEnc.Marshal(p)
	default:
		return nil, fmt.Errorf("unsupported parameter container %T", params)
	}
}

// DecodeParams is the inverse of EncodeParams; positional parameters come
// back keyed by index.
func DecodeParams(b []byte) (map[string]interface{}, error) {
	if b == nil {
		return nil, nil
	}
	var params map[string]interface{}
	if err := cborDec.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	return params, nil
}

// EncodeRow encodes a result row.
func EncodeRow(row Row) ([]byte, error) {
	return cborEnc.Marshal(map[string]interface{}(row))
}

// DecodeRow decodes a result row.
func DecodeRow(b []byte) (Row, error) {
	var row map[string]interface{}
	if err := cborDec.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return Row(row), nil
}

// EncodeStorageConfiguration encodes a storage configuration payload.
func EncodeStorageConfiguration(cfg *StorageConfiguration) ([]byte, error) {
	return cborEnc.Marshal(cfg)
}

// DecodeStorageConfiguration decodes a storage configuration payload as sent
// on reload and on storage-config pushes.
func DecodeStorageConfiguration(b []byte) (*StorageConfiguration, error) {
	cfg := &StorageConfiguration{}
	if err := cborDec.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("decoding storage configuration: %w", err)
	}
	return cfg, nil
}
