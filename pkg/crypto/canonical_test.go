package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	v, err := DecodeJSON([]byte(`{ "b": 2, "a": { "z": true, "y": null }, "c": [1, "two", 3.5] }`))
	require.NoError(t, err)

	got, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":2,"c":[1,"two",3.5]}`, string(got))
}

func TestCanonicalizePreservesNumberLiterals(t *testing.T) {
	// json.Number keeps the source literal, so large ids survive untouched.
	v, err := DecodeJSON([]byte(`{"id":9007199254740993}`))
	require.NoError(t, err)

	got, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(got))
}

func TestCanonicalizeDoesNotEscapeHTML(t *testing.T) {
	got, err := Canonicalize(map[string]any{"text": "<a> & </a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"text":"<a> & </a>"}`, string(got))
}

func TestCanonicalSocialBodyIsStable(t *testing.T) {
	a, err := CanonicalSocialBody("post", json.RawMessage(`{"text":"hi","n":1}`), "prev", 42, "u1")
	require.NoError(t, err)
	b, err := CanonicalSocialBody("post", json.RawMessage(`{ "n": 1, "text": "hi" }`), "prev", 42, "u1")
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, EventHash(a), EventHash(b))

	c, err := CanonicalSocialBody("post", json.RawMessage(`{"text":"hi","n":2}`), "prev", 42, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, EventHash(a), EventHash(c))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	userID := EncodeUserID(pub)

	canonical, err := CanonicalSocialBody("post", json.RawMessage(`{"text":"hi"}`), "", 42, userID)
	require.NoError(t, err)
	sig := SignSocialBody(priv, canonical)

	require.NoError(t, VerifySocialSignature(userID, canonical, sig))

	// A different body fails verification.
	other, err := CanonicalSocialBody("post", json.RawMessage(`{"text":"bye"}`), "", 42, userID)
	require.NoError(t, err)
	assert.Error(t, VerifySocialSignature(userID, other, sig))

	// A foreign key fails too.
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	assert.Error(t, VerifySocialSignature(EncodeUserID(otherPub), canonical, sig))
}

func TestDecodeUserIDRejectsBadInput(t *testing.T) {
	_, err := DecodeUserID("not base64!")
	assert.Error(t, err)
	_, err = DecodeUserID("c2hvcnQ")
	assert.Error(t, err)
}

func TestTokensAreOpaqueAndDistinct(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	assert.Len(t, SessionID(a), 32)
	assert.NotEqual(t, SessionID(a), SessionID(b))
}
