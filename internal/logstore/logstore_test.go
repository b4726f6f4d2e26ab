package logstore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStream(t *testing.T) {
	for in, want := range map[string]Stream{"": Stdout, "stdout": Stdout, "STDERR": Stderr, "err": Stderr} {
		got, err := ParseStream(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStream("both")
	assert.Error(t, err)
}

func TestCreate_NamesAndExclusivity(t *testing.T) {
	s := New(t.TempDir(), "streamlit")
	now := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.Local)

	a, err := s.Create(now)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, filepath.Join(s.Dir, "streamlit_stdout_20260304_050607.890.log"), a.Stdout)
	assert.Equal(t, filepath.Join(s.Dir, "streamlit_stderr_20260304_050607.890.log"), a.Stderr)

	_, err = a.Out.WriteString("first run\n")
	require.NoError(t, err)

	// Same instant: a new pair must be allocated, the first must stay intact.
	b, err := s.Create(now)
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.Stdout, b.Stdout)
	assert.True(t, strings.HasSuffix(b.Stamp, "-1"), b.Stamp)

	got, err := os.ReadFile(a.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "first run\n", string(got))
}

func TestLast_PointerThenScan(t *testing.T) {
	s := New(t.TempDir(), "app")
	_, ok := s.Last()
	assert.False(t, ok, "no runs yet")

	older, err := s.Create(time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	older.Close()
	newer, err := s.Create(time.Date(2026, 1, 2, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	newer.Close()

	// Without a pointer, the newest pair on disk wins.
	p, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, newer.Pair, p)

	// The pointer is authoritative once written.
	require.NoError(t, s.MarkLast(older.Pair))
	p, ok = s.Last()
	require.True(t, ok)
	assert.Equal(t, older.Pair, p)
	assert.Equal(t, older.Stderr, p.Path(Stderr))
	assert.Equal(t, older.Stdout, p.Path(Stdout))
}

func TestTail(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "line %d\r\n", i)
	}
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o600))

	got, err := Tail(p, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, got)

	got, err = Tail(p, 50)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, "line 1", got[0])

	got, err = Tail(p, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Tail(filepath.Join(t.TempDir(), "missing.log"), 5)
	assert.True(t, os.IsNotExist(err))
}

func TestTail_NoTrailingNewline(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(p, []byte("a\nb"), 0o600))
	got, err := Tail(p, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got)
}

func TestTail_HugeCountOnSmallFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(p, []byte("one\ntwo\n"), 0o600))
	got, err := Tail(p, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestTail_AcrossBlocks(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	var sb strings.Builder
	for i := 1; i <= 30000; i++ {
		fmt.Fprintf(&sb, "line %05d\n", i)
	}
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o600))

	got, err := Tail(p, 10000)
	require.NoError(t, err)
	require.Len(t, got, 10000)
	assert.Equal(t, "line 20001", got[0])
	assert.Equal(t, "line 30000", got[9999])

	all, err := Tail(p, math.MaxInt)
	require.NoError(t, err)
	require.Len(t, all, 30000)
	assert.Equal(t, "line 00001", all[0])
}

func TestTail_LongLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.log")
	long := strings.Repeat("x", 2*MaxLineBytes)
	require.NoError(t, os.WriteFile(p, []byte("first\n"+long+"\nlast\n"), 0o600))

	got, err := Tail(p, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"last"}, got)

	got, err = Tail(p, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0])
	assert.Len(t, got[1], MaxLineBytes)
	assert.Equal(t, "last", got[2])
}

func TestTail_EmptyAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	got, err := Tail(empty, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	blank := filepath.Join(dir, "blank.log")
	require.NoError(t, os.WriteFile(blank, []byte("a\n\nb\n"), 0o600))
	got, err = Tail(blank, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "b"}, got)
}

func TestLast_ManyClashesInOneStamp(t *testing.T) {
	s := New(t.TempDir(), "app")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	var newest Pair
	for i := 0; i < 12; i++ {
		f, err := s.Create(now)
		require.NoError(t, err)
		f.Close()
		newest = f.Pair
	}
	require.True(t, strings.HasSuffix(newest.Stamp, "-11"), newest.Stamp)

	p, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, newest, p)
}
