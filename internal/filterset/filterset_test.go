package filterset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldExclude_EmptyPatternsAcceptsAll(t *testing.T) {
	require.False(t, ShouldExclude("a/b/c.txt", nil))
}

func TestShouldExclude_FullPathMatch(t *testing.T) {
	require.True(t, ShouldExclude("logs/app.log", []string{"logs/*.log"}))
}

func TestShouldExclude_BasenameMatch(t *testing.T) {
	require.True(t, ShouldExclude("a/b/thumbs.db", []string{"thumbs.db"}))
}

func TestShouldExclude_AncestorSegmentMatch(t *testing.T) {
	require.True(t, ShouldExclude("a/.git/objects/1", []string{".git"}))
}

func TestShouldExclude_NoMatch(t *testing.T) {
	require.False(t, ShouldExclude("a/b/c.txt", []string{"*.log", "node_modules"}))
}

func TestShouldExclude_InvalidPatternIsIgnored(t *testing.T) {
	require.False(t, ShouldExclude("a/b.txt", []string{"["}))
}
