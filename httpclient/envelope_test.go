package httpclient

import (
	"context"
	"net/http"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonBody(payload string) *ResponseBody {
	return &ResponseBody{Kind: BodyJSON, JSON: json.RawMessage(payload)}
}

func TestEnvelope_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    *ResponseBody
		want    testUser
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:    "given code zero, then decodes data",
			body:    jsonBody(`{"code":0,"data":{"id":1,"name":"ann"},"message":"ok"}`),
			want:    testUser{ID: 1, Name: "ann"},
			wantErr: assert.NoError,
		},
		{
			name:    "given code zero without data, then leaves target",
			body:    jsonBody(`{"code":0}`),
			wantErr: assert.NoError,
		},
		{
			name: "given non zero code, then business error with message",
			body: jsonBody(`{"code":40001,"message":"user frozen"}`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				code, msg, ok := IsBusinessError(err)
				return assert.True(t, ok) &&
					assert.Equal(t, int64(40001), code) &&
					assert.Equal(t, "user frozen", msg) &&
					assert.Equal(t, "business error: 40001 - user frozen", err.Error())
			},
		},
		{
			name: "given msg alias, then uses it as message",
			body: jsonBody(`{"code":7,"msg":"quota"}`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				_, msg, ok := IsBusinessError(err)
				return assert.True(t, ok) && assert.Equal(t, "quota", msg)
			},
		},
		{
			name: "given null code, then illegal payload",
			body: jsonBody(`{"code":null,"data":{"id":1,"name":"ann"}}`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrIllegalPayload)
			},
		},
		{
			name: "given missing code, then illegal payload",
			body: jsonBody(`{"data":{}}`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrIllegalPayload)
			},
		},
		{
			name: "given string code, then illegal payload",
			body: jsonBody(`{"code":"0","data":{}}`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrIllegalPayload)
			},
		},
		{
			name: "given empty body, then illegal payload",
			body: &ResponseBody{Kind: BodyEmpty},
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrIllegalPayload)
			},
		},
		{
			name: "given text body, then incompatible content type",
			body: &ResponseBody{Kind: BodyText, Text: "hello"},
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrIncompatibleContentType)
			},
		},
		{
			name: "given array payload, then decode json error",
			body: jsonBody(`[1,2]`),
			wantErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, ErrDecodeJSON)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got testUser
			err := Envelope.Extract(tt.body, &got)
			tt.wantErr(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvelope_CodeDataMessage(t *testing.T) {
	t.Parallel()

	header := make(http.Header)
	header.Set(HeaderRequestID, "req-1")
	header.Set(HeaderTraceID, "trace-1")
	header.Set(HeaderSpanID, "span-1")

	body := &ResponseBody{
		Kind:          BodyJSON,
		JSON:          json.RawMessage(`{"code":3,"data":{"id":5},"message":"partial","page":{"next":2}}`),
		Headers:       header,
		injectHeaders: true,
	}

	var env CodeDataMessage
	require.NoError(t, Envelope.Extract(body, &env), "the whole envelope is returned regardless of code")

	assert.Equal(t, int64(3), env.Code)
	assert.False(t, env.IsSuccess())
	assert.Equal(t, "partial", env.Message)
	assert.Equal(t, "req-1", env.RequestID())
	assert.Equal(t, "trace-1", env.TraceID())
	assert.Equal(t, "span-1", env.SpanID())

	v, ok := env.Header("x-request-id")
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)

	var page struct {
		Next int `json:"next"`
	}
	assert.True(t, env.Extra("page", &page))
	assert.Equal(t, 2, page.Next)
	assert.False(t, env.Extra("missing", &page))

	var data testUser
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, 5, data.ID)
}

func TestEnvelope_ThroughClient(t *testing.T) {
	t.Parallel()

	mock := NewMockServer().
		StubJSON("/users/1", http.StatusOK, `{"code":0,"data":{"id":1,"name":"ann"}}`).
		StubJSON("/users/2", http.StatusOK, `{"code":404,"message":"no such user"}`).
		StubJSON("/users/3", http.StatusInternalServerError, `{"code":500}`)

	client, err := New("http://users.internal", WithMockServer(mock))
	require.NoError(t, err)

	got, err := Send[testUser](context.Background(),
		client.Request("GetUser").Path("/users/{id}").PathParam("id", "1"), http.MethodGet, Envelope)
	require.NoError(t, err)
	assert.Equal(t, testUser{ID: 1, Name: "ann"}, got)

	_, err = Send[testUser](context.Background(),
		client.Request("GetUser").Path("/users/{id}").PathParam("id", "2"), http.MethodGet, Envelope)
	code, msg, ok := IsBusinessError(err)
	require.True(t, ok)
	assert.Equal(t, int64(404), code)
	assert.Equal(t, "no such user", msg)

	_, err = Send[testUser](context.Background(),
		client.Request("GetUser").Path("/users/{id}").PathParam("id", "3"), http.MethodGet, Envelope)
	assert.ErrorIs(t, err, ErrHTTPServerStatus, "status wins over the envelope")

	env, err := Send[CodeDataMessage](context.Background(),
		client.Request("GetUser").Path("/users/1").RequestID("req-77"), http.MethodGet, Envelope)
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.Code)
	assert.Empty(t, env.RequestID(), "mock responses carry no id headers")
}
