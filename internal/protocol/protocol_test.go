package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WriteFrame(&buf, nil))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

// Полезная нагрузка ровно в размер старого буфера чтения не ломает разбор
func TestFrameExactBufferSize(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameTooLargeIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])
	buf.Write(make([]byte, MaxFrameSize+1))
	require.NoError(t, WriteFrame(&buf, []byte("next")))

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// следующий кадр читается как обычно
	next, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "next", string(next))

	assert.ErrorIs(t, WriteFrame(io.Discard, make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)
}

func TestFrameTooLargeTruncated(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameOverflow(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], MaxDiscardSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameOverflow)
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command":"login","username":" ann ","arguments":["pw"]}`))
	require.NoError(t, err)
	assert.Equal(t, CmdLogin, req.Command)
	assert.Equal(t, "ann", req.Username)
	assert.Equal(t, "pw", req.Payload())
	assert.Empty(t, req.Arg(3))

	req, err = DecodeRequest([]byte(`{"command":"SUBMIT_GUESS","username":"ann","data":"basketball","arguments":["x"]}`))
	require.NoError(t, err)
	assert.Equal(t, "basketball", req.Payload())

	_, err = DecodeRequest([]byte(`{"command":"STATS"}`))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = DecodeRequest([]byte(`{"command":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCommandKnown(t *testing.T) {
	assert.True(t, CmdShareLastRound.Known())
	assert.False(t, Command("REGISTER").Known())
}

func TestEncodeResponseOmitsEmpty(t *testing.T) {
	data, err := EncodeResponse(NewResponse(CodeOK))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"OK"}`, string(data))

	data, err = EncodeResponse(NewResponse(CodeGameLost).WithRemaining(0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"GAME_LOST","remainingAttempts":0}`, string(data))
}
