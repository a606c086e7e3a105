package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/huddle/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	id := uuid.New()
	out, err := execute(t, "token", "--user", id.String(), "--name", "Cara", "--role", "teacher", "--secret", "s3cret")
	require.NoError(t, err)

	claims, err := auth.ParseToken(strings.TrimSpace(out), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "Cara", claims.Actor().Name)
	assert.Equal(t, "teacher", claims.Actor().Role)
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	_, err := execute(t, "token", "--secret", "s3cret")
	require.Error(t, err, "--user is required")

	_, err = execute(t, "token", "--user", "nope", "--secret", "s3cret")
	require.Error(t, err)

	_, err = execute(t, "token", "--user", uuid.NewString(), "--role", "root", "--secret", "s3cret")
	require.Error(t, err)
}

func TestChannelCreateValidatesIDsBeforeConnecting(t *testing.T) {
	_, err := execute(t, "channel", "create", "--name", "Spanish B1", "--owner", "nope")
	require.ErrorContains(t, err, "--owner")

	_, err = execute(t, "channel", "create", "--name", "Spanish B1", "--owner", uuid.NewString(), "--member", "bad")
	require.ErrorContains(t, err, "--member")
}

func TestParseIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids, err := parseIDs([]string{a.String(), b.String()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
}

func TestReadPasswordFromPipe(t *testing.T) {
	pw, err := readPassword(strings.NewReader("correct horse\n"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "correct horse", pw)

	pw, err = readPassword(strings.NewReader("no-newline"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader("short\n"), &bytes.Buffer{})
	require.Error(t, err)
}

func TestUserCreateValidatesFlags(t *testing.T) {
	_, err := execute(t, "user", "create", "--email", "not-an-email", "--name", "Ana")
	require.ErrorContains(t, err, "--email")

	_, err = execute(t, "user", "create", "--email", "ana@example.com", "--name", "Ana", "--role", "root")
	require.ErrorContains(t, err, "--role")
}
