package patch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUnifiedDiffAndApply(t *testing.T) {
	original := "line one\nline two\nline three\n"
	diff := `--- a/index.js
+++ b/index.js
@@ -1,3 +1,3 @@
 line one
-line two
+line TWO
 line three
`
	files, err := parseUnifiedDiff(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "index.js", files[0].path)

	patched, err := applyFileDiff(original, files[0])
	require.NoError(t, err)
	require.Equal(t, "line one\nline TWO\nline three\n", patched)
}

func TestApplyFileDiffRejectsContextMismatch(t *testing.T) {
	original := "alpha\nbeta\n"
	diff := `--- a/f
+++ b/f
@@ -1,2 +1,2 @@
 zzz
-beta
+gamma
`
	files, err := parseUnifiedDiff(diff)
	require.NoError(t, err)
	_, err = applyFileDiff(original, files[0])
	require.Error(t, err)
}

func TestParseUnifiedDiffMultipleHunks(t *testing.T) {
	diff := `--- a/f
+++ b/f
@@ -1,1 +1,1 @@
-a
+A
@@ -5,1 +5,1 @@
-e
+E
`
	files, err := parseUnifiedDiff(diff)
	require.NoError(t, err)
	require.Len(t, files[0].hunks, 2)
}
