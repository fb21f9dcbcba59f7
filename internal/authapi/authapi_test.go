package authapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_IssueAndValidate(t *testing.T) {
	s := NewStore()
	tok := s.Issue(time.Minute)
	require.True(t, s.Validate(tok.Value))
}

func TestStore_RejectsUnknownToken(t *testing.T) {
	s := NewStore()
	require.False(t, s.Validate("not-a-real-token"))
}

func TestStore_RejectsExpiredToken(t *testing.T) {
	s := NewStore()
	tok := s.Issue(-time.Second)
	require.False(t, s.Validate(tok.Value))
}

func TestStore_Revoke(t *testing.T) {
	s := NewStore()
	tok := s.Issue(time.Minute)
	s.Revoke(tok.Value)
	require.False(t, s.Validate(tok.Value))
}
