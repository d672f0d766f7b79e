package marker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pupilstim/internal/stream"
)

func TestEmitOrdered(t *testing.T) {
	out := stream.NewRecorder(stream.EventInfo("test"))
	e := NewEmitter(out, nil)

	m, err := e.Emit(Start, 0, time.Second, time.Second+2*time.Millisecond, "Start Red sphere")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, m.Lateness())

	_, err = e.Emit(Stop, 0, 1500*time.Millisecond, 1500*time.Millisecond, "Stop Red sphere")
	require.NoError(t, err)

	_, err = e.Emit(Start, 1, time.Second, time.Second, "too early")
	assert.ErrorIs(t, err, ErrOutOfOrder)

	// equal timestamps are allowed
	_, err = e.Emit(Terminal, -1, 0, 1500*time.Millisecond, AbortText(errors.New("display lost")))
	require.NoError(t, err)

	assert.Equal(t, []string{"Start Red sphere", "Stop Red sphere", "Aborted: display lost."}, out.Texts())
	markers := e.Markers()
	require.Len(t, markers, 3)
	assert.Equal(t, 2, markers[2].Seq)
	assert.Equal(t, Terminal, markers[2].Kind)
}

func TestEmitPublishFailure(t *testing.T) {
	out := stream.NewRecorder(stream.EventInfo("test"))
	boom := errors.New("outlet gone")
	out.Fail(boom)

	e := NewEmitter(out, nil)
	_, err := e.Emit(Start, 0, 0, 0, "Start")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, e.Markers())
}

func TestSave(t *testing.T) {
	e := NewEmitter(stream.NewRecorder(stream.EventInfo("test")), nil)
	_, err := e.Emit(Start, 3, 2*time.Second, 2*time.Second, "Start Blue sphere, now")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "markers.csv")
	require.NoError(t, e.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "seq,kind,phase,intended_s,actual_s,text", lines[0])
	assert.Equal(t, `0,start,3,2.000000,2.000000,"Start Blue sphere, now"`, lines[1])
}

func TestSaveReportsWriteFailure(t *testing.T) {
	e := NewEmitter(stream.NewRecorder(stream.EventInfo("test")), nil)
	for i := 0; i < 200; i++ {
		ts := time.Duration(i) * time.Second
		_, err := e.Emit(Start, i, ts, ts, strings.Repeat("x", 64))
		require.NoError(t, err)
	}

	assert.Error(t, e.Save(filepath.Join(t.TempDir(), "missing", "markers.csv")))

	// writes to /dev/full fail with ENOSPC once the csv buffer spills
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full on this system")
	}
	assert.Error(t, e.Save("/dev/full"))
}
