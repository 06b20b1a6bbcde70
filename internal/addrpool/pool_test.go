package addrpool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testSession struct {
	pinned  string
	current string
}

func (s *testSession) Pinned() (string, bool)  { return s.pinned, s.pinned != "" }
func (s *testSession) CurrentAddress() string { return s.current }

func TestParseStrategy(t *testing.T) {
	testCases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"sticky", Sticky, false},
		{"STICKY", Sticky, false},
		{"", Sticky, false},
		{"round_robin_connect", RoundRobinConnect, false},
		{"Round-Robin-Request", RoundRobinRequest, false},
		{"random", Sticky, true},
	}
	for _, tc := range testCases {
		got, err := ParseStrategy(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "db1:2424", NormalizeAddress(" db1 "))
	assert.Equal(t, "db1:2480", NormalizeAddress("db1:2480"))
	assert.Equal(t, "[::1]:2424", NormalizeAddress("::1"))
	assert.Equal(t, "", NormalizeAddress("  "))

	p := New([]string{"a", "a:2424", "b"})
	assert.Equal(t, []string{"a:2424", "b:2424"}, p.Addresses())
}

func TestRoundRobinRequest(t *testing.T) {
	p := New([]string{"A:1", "B:1", "C:1"})
	var got []string
	for i := 0; i < 4; i++ {
		addr, err := p.Next(false, nil, RoundRobinRequest)
		require.NoError(t, err)
		got = append(got, addr)
	}
	assert.Equal(t, []string{"A:1", "B:1", "C:1", "A:1"}, got)
}

func TestRoundRobinConnect(t *testing.T) {
	p := New([]string{"A:1", "B:1"})
	s := &testSession{current: "B:1"}

	addr, err := p.Next(false, s, RoundRobinConnect)
	require.NoError(t, err)
	assert.Equal(t, "B:1", addr, "requests stay on the session address")

	addr, err = p.Next(true, s, RoundRobinConnect)
	require.NoError(t, err)
	assert.Equal(t, "A:1", addr)
	addr, err = p.Next(true, s, RoundRobinConnect)
	require.NoError(t, err)
	assert.Equal(t, "B:1", addr)
}

func TestStickyPrefersPinned(t *testing.T) {
	p := New([]string{"A:1", "B:1", "C:1"})
	s := &testSession{pinned: "C:1", current: "B:1"}

	addr, err := p.Next(true, s, Sticky)
	require.NoError(t, err)
	assert.Equal(t, "C:1", addr)

	s.pinned = ""
	addr, err = p.Next(true, s, Sticky)
	require.NoError(t, err)
	assert.Equal(t, "B:1", addr)

	p.Remove("B:1")
	addr, err = p.Next(true, s, Sticky)
	require.NoError(t, err)
	assert.Equal(t, "A:1", addr, "falls back to the first candidate once the address failed")
}

func TestRemoveAndRefill(t *testing.T) {
	p := New([]string{"A:1", "B:1"})

	next, ok := p.Remove("A:1")
	assert.True(t, ok)
	assert.Equal(t, "B:1", next)

	// removing an unknown address changes nothing
	next, ok = p.Remove("Z:1")
	assert.True(t, ok)
	assert.Equal(t, "B:1", next)

	_, ok = p.Remove("B:1")
	assert.False(t, ok)

	_, err := p.Next(false, nil, Sticky)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"A:1", "B:1"}, exhausted.Addresses)
	assert.Contains(t, err.Error(), "cannot connect to any configured address")

	p.RefillFromOriginal()
	assert.Equal(t, []string{"A:1", "B:1"}, p.Addresses())
}

func TestUpdateMembers(t *testing.T) {
	p := New([]string{"A:1"})
	added := p.UpdateMembers([]string{"A:1", "B", "C:7"})
	assert.Equal(t, []string{"B:2424", "C:7"}, added)
	assert.Equal(t, []string{"A:1", "B:2424", "C:7"}, p.Addresses())

	p.Remove("A:1")
	p.Remove("B:2424")
	p.Remove("C:7")
	p.RefillFromOriginal()
	assert.Equal(t, []string{"A:1"}, p.Addresses(), "refill restores the configured list only")

	var exhausted *ExhaustedError
	p.Remove("A:1")
	require.True(t, errors.As(p.Exhausted(), &exhausted))
	assert.Equal(t, []string{"A:1"}, exhausted.Addresses)
}

func TestStickyProperty(t *testing.T) {
	rapid.Check(t, rapid.Run(&stickyModel{}))
}

// stickyModel checks that under the sticky strategy a session keeps getting
// the same address for any interleaving of connect and request selections,
// as long as that address is not removed.
type stickyModel struct {
	pool    *Pool
	session *testSession
	all     []string
}

func (m *stickyModel) Init(t *rapid.T) {
	n := rapid.IntRange(1, 6).Draw(t, "n").(int)
	m.all = make([]string, n)
	for i := range m.all {
		m.all[i] = fmt.Sprintf("10.0.0.%d:2424", i+1)
	}
	// shuffle the configured order
	for i := n - 1; i > 0; i-- {
		j := rapid.IntRange(0, i).Draw(t, "swap").(int)
		m.all[i], m.all[j] = m.all[j], m.all[i]
	}
	m.pool = New(m.all)
	m.session = &testSession{}
}

func (m *stickyModel) NextConnect(t *rapid.T) {
	m.next(t, true)
}

func (m *stickyModel) NextRequest(t *rapid.T) {
	m.next(t, false)
}

func (m *stickyModel) next(t *rapid.T, isConnect bool) {
	addr, err := m.pool.Next(isConnect, m.session, Sticky)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.session.current != "" && addr != m.session.current {
		t.Fatalf("sticky session moved from %s to %s", m.session.current, addr)
	}
	m.session.current = addr
}

func (m *stickyModel) RemoveOther(t *rapid.T) {
	candidates := m.pool.Addresses()
	var others []string
	for _, a := range candidates {
		if a != m.session.current {
			others = append(others, a)
		}
	}
	if len(others) == 0 {
		t.Skip("no other address to remove")
	}
	ix := rapid.IntRange(0, len(others)-1).Draw(t, "index").(int)
	m.pool.Remove(others[ix])
}

func (m *stickyModel) Check(t *rapid.T) {
	if m.session.current == "" {
		return
	}
	for _, a := range m.pool.Addresses() {
		if a == m.session.current {
			return
		}
	}
	t.Fatalf("current address %s was removed", m.session.current)
}
