package event

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoticeEnvelope(t *testing.T) {
	s := Notice("hello").String()
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	require.Contains(t, decoded, "type")
	require.Contains(t, decoded, "data")

	var typ string
	require.NoError(t, json.Unmarshal(decoded["type"], &typ))
	require.Equal(t, string(TypeNotice), typ)

	var data NoticeData
	require.NoError(t, json.Unmarshal(decoded["data"], &data))
	require.Equal(t, "hello", data.Message)
}

func TestStepBeginEndRoundTrip(t *testing.T) {
	begin := StepBegin("INSTALL", "foo~ports/foo", "foo")
	var decoded struct {
		Type string
		Data StepBeginData
	}
	require.NoError(t, json.Unmarshal([]byte(begin.String()), &decoded))
	require.Equal(t, "INSTALL", decoded.Data.Kind)
	require.Equal(t, "foo~ports/foo", decoded.Data.UID)

	end := StepEnd("INSTALL", "foo~ports/foo", "foo", false, "boom")
	var decodedEnd struct {
		Type string
		Data StepEndData
	}
	require.NoError(t, json.Unmarshal([]byte(end.String()), &decodedEnd))
	require.False(t, decodedEnd.Data.Success)
	require.Equal(t, "boom", decodedEnd.Data.ErrorMsg)
}

func TestMultiFansOutToEveryListener(t *testing.T) {
	var got1, got2 []string
	l1 := func(s fmt.Stringer) { got1 = append(got1, s.String()) }
	l2 := func(s fmt.Stringer) { got2 = append(got2, s.String()) }

	multi := Multi(l1, nil, l2)
	multi(Notice("hi"))

	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	require.Equal(t, got1, got2)
}

func TestNopDiscards(t *testing.T) {
	require.NotPanics(t, func() { Nop(Notice("anything")) })
}

func TestErrorMarshalsInvalidDataSafely(t *testing.T) {
	ev := Event{Type: TypeError, Data: make(chan int)}
	s := ev.String()
	require.Contains(t, s, `"type":"ERROR"`)
	require.Contains(t, s, "message")
}
