package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFraming(t *testing.T) {
	testCases := []struct {
		name string
		req  Request
	}{
		{"open", &OpenRequest{
			DriverName:      "driver",
			DriverVersion:   "1.0",
			ProtocolVersion: 38,
			ClientID:        "3b241101-e2bb-4255-8caf-4136c566a962",
			DBName:          "demo",
			User:            "admin",
			Password:        "secret",
		}},
		{"count", &CountRequest{Collections: []int32{3, 9, 12}, Tombstones: true}},
		{"positions", &PositionsRequest{Op: OpFloorPositions, Collection: 4, Position: 1 << 40, Limit: 10}},
		{"commit", &TransactionRequest{
			Op:   OpCommit,
			TxID: 77,
			Operations: []RecordOperation{
				{Type: OperationCreated, RID: RID{Collection: 5, Position: -2}, RecordType: 'd', Content: []byte{1, 2}, ContentChanged: true},
				{Type: OperationDeleted, RID: RID{Collection: 5, Position: 10}, Version: 3},
			},
			DirtyCounters: []DirtyCounter{{RID: RID{Collection: 5, Position: -2}, Counter: 1}},
		}},
		{"live subscribe", &SubscribeRequest{Topic: PushLiveQuery, Query: "select from V", Params: []byte{0xa0}}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRequest(&buf, 12, []byte("tok"), tc.req))

			hdr, got, err := ReadRequest(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.req.Opcode(), hdr.Opcode)
			assert.Equal(t, int32(12), hdr.SessionID)
			assert.Equal(t, []byte("tok"), hdr.Token)
			if diff := cmp.Diff(tc.req, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("request mismatch (-want +got):\n%s", diff)
			}
			assert.Zero(t, buf.Len(), "frame not fully consumed")
		})
	}
}

func TestRequestWithoutToken(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, NoSession, nil, &OpenRequest{DBName: "demo"}))

	hdr, _, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, NoSession, hdr.SessionID)
	assert.Nil(t, hdr.Token)
}

func TestNewRequestUnknownOpcode(t *testing.T) {
	_, err := NewRequest(Opcode(200))
	var unknown UnknownOpcodeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, Opcode(200), unknown.Opcode)
}

func TestEveryOpcodeHasARequest(t *testing.T) {
	for op := range opcodeNames {
		req, err := NewRequest(op)
		require.NoError(t, err, op.String())
		assert.Equal(t, op, req.Opcode())
	}
}

func TestReadResponse(t *testing.T) {
	var buf bytes.Buffer
	want := &QueryResponse{
		QueryID:     "q1",
		Rows:        [][]byte{{0xa0}, {0xa0}},
		HasNextPage: true,
	}
	require.NoError(t, WriteResponse(&buf, 4, []byte("new-token"), want))

	got := &QueryResponse{}
	hdr, err := ReadResponse(&buf, got)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, hdr.Status)
	assert.Equal(t, int32(4), hdr.SessionID)
	assert.Equal(t, []byte("new-token"), hdr.Token)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestReadResponseServerError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteServerError(&buf, 4, &ServerError{
		Code:    ErrCodeRedirect,
		Message: "moved",
		From:    "a:2424",
		To:      "b:2424",
	}))

	hdr, err := ReadResponse(&buf, &BoolResponse{})
	assert.Equal(t, StatusError, hdr.Status)

	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ErrCodeRedirect, serr.Code)
	assert.Equal(t, "b:2424", serr.To)
	assert.Contains(t, serr.Error(), "from a:2424 to b:2424")
}

func TestReadResponseRejectsPush(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePush(&buf, &StorageConfigPush{Payload: []byte{1}}))

	_, err := ReadResponse(&buf, &BoolResponse{})
	assert.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestUnknownPushIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePush(&buf, &UnknownPush{Topic: 99, Payload: []byte("whatever")}))
	require.NoError(t, WritePush(&buf, &LiveQueryPush{
		MonitorID: 8,
		Status:    LiveRunning,
		Events:    []LiveEvent{{Type: LiveUpdate, Current: []byte{1}, Before: []byte{2}}},
	}))

	d := NewDecoder(&buf)
	require.Equal(t, StatusPush, Status(d.Byte()))
	p, err := DecodePush(d)
	require.NoError(t, err)
	unknown, ok := p.(*UnknownPush)
	require.True(t, ok)
	assert.Equal(t, PushSubtype(99), unknown.Topic)

	require.Equal(t, StatusPush, Status(d.Byte()))
	p, err = DecodePush(d)
	require.NoError(t, err)
	live, ok := p.(*LiveQueryPush)
	require.True(t, ok)
	assert.Equal(t, int32(8), live.MonitorID)
	require.Len(t, live.Events, 1)
	assert.Equal(t, []byte{2}, live.Events[0].Before)
}

func TestLiveQueryErrorPush(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePush(&buf, &LiveQueryPush{MonitorID: 3, Status: LiveError, ErrorCode: 7, ErrorMessage: "boom"}))

	d := NewDecoder(&buf)
	d.Byte()
	p, err := DecodePush(d)
	require.NoError(t, err)
	live := p.(*LiveQueryPush)
	assert.Equal(t, LiveError, live.Status)
	assert.Equal(t, int32(7), live.ErrorCode)
	assert.Equal(t, "boom", live.ErrorMessage)
}

func TestDecoderRejectsOversizedField(t *testing.T) {
	e := NewEncoder()
	defer e.Release()
	e.Int32(MaxFieldSize + 1)

	d := NewDecoder(bytes.NewReader(e.Frame()))
	assert.Nil(t, d.Bytes())
	assert.True(t, errors.Is(d.Err(), ErrMalformedFrame))

	// the error is sticky
	assert.Zero(t, d.Int64())
	assert.True(t, errors.Is(d.Err(), ErrMalformedFrame))
}

func TestEncodeParams(t *testing.T) {
	b, err := EncodeParams([]interface{}{"x", uint64(2)})
	require.NoError(t, err)
	params, err := DecodeParams(b)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"0": "x", "1": uint64(2)}, params)

	b, err = EncodeParams(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = EncodeParams(42)
	assert.Error(t, err)
}

func TestStorageConfigurationPayload(t *testing.T) {
	want := &StorageConfiguration{
		Name:    "demo",
		Version: 3,
		Collections: []CollectionConfig{
			{ID: 0, Name: "internal"},
			{ID: 1, Name: "V"},
		},
	}
	b, err := EncodeStorageConfiguration(want)
	require.NoError(t, err)

	got, err := DecodeStorageConfiguration(b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("configuration mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeStorageConfiguration([]byte{0xff})
	assert.Error(t, err)
}
