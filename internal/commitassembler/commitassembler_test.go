package commitassembler

import (
	"os"
	"testing"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/pathrule"
	"github.com/stretchr/testify/require"
)

func newAssembler(t *testing.T) (*Assembler, *marks.MarkState) {
	t.Helper()
	m := marks.NewMarkState()
	a := &Assembler{
		Rules: &pathrule.Rules{},
		Marks: m,
	}
	return a, m
}

func TestStartCommitRenamesBranchHeader(t *testing.T) {
	a, m := newAssembler(t)
	a.BranchRename = &config.Rename{Old: []byte("features/"), New: []byte("topics/")}
	c := a.StartCommit([]byte("commit refs/heads/features/foo\n"))
	require.Equal(t, "commit refs/heads/topics/foo\n", string(c.HeaderLine))
	newRef, ok := m.RefRenames.Get("refs/heads/features/foo")
	require.True(t, ok)
	require.Equal(t, "refs/heads/topics/foo", newRef)
}

func TestStartCommitRenamesTagHeader(t *testing.T) {
	a, _ := newAssembler(t)
	a.TagRename = &config.Rename{Old: []byte("v"), New: []byte("release-")}
	c := a.StartCommit([]byte("commit refs/tags/v1.0\n"))
	require.Equal(t, "commit refs/tags/release-1.0\n", string(c.HeaderLine))
}

func TestStartCommitNoRenameConfigured(t *testing.T) {
	a, _ := newAssembler(t)
	c := a.StartCommit([]byte("commit refs/heads/main\n"))
	require.Equal(t, "commit refs/heads/main\n", string(c.HeaderLine))
}

// commit pruned by path filter, alias emitted to surviving parent.
func TestPruneThenAliasToSurvivingParent(t *testing.T) {
	a, m := newAssembler(t)
	m.MarkEmitted(2) // C1 (mark 2) already emitted

	c2 := a.StartCommit([]byte("commit refs/heads/main\n"))
	c2.Mark = 3
	c2.AddParent(ParentFrom, []byte("from :2\n"))
	c2.HasChanges = false // its only filechange was filtered away

	a.FinalizeParents(c2)
	require.False(t, c2.ShouldKeep())

	stanza, ok := c2.Alias(m)
	require.True(t, ok)
	require.Equal(t, "alias\nmark :3\nto :2\n\n", string(stanza))
	require.Equal(t, 2, m.Canonical(3))
}

// merge collapses to a single parent once a dropped side branch's mark
// aliases onto the same canonical commit as the surviving "from" parent.
func TestMergeDedupAfterAlias(t *testing.T) {
	a, m := newAssembler(t)
	m.MarkEmitted(10) // A
	m.MarkEmitted(12) // C

	// B (mark 11) was pruned and aliased onto C (mark 12).
	m.SetAlias(11, 12)

	mcommit := a.StartCommit([]byte("commit refs/heads/main\n"))
	mcommit.Mark = 13
	mcommit.AddParent(ParentFrom, []byte("from :12\n"))
	mcommit.AddParent(ParentMerge, []byte("merge :11\n"))
	mcommit.HasChanges = true

	a.FinalizeParents(mcommit)
	require.Len(t, mcommit.Parents, 1)
	require.Equal(t, 12, mcommit.Parents[0].Mark)
	require.True(t, mcommit.ShouldKeep())
}

func TestFinalizeDropsUnemittedParent(t *testing.T) {
	a, _ := newAssembler(t)
	c := a.StartCommit([]byte("commit refs/heads/main\n"))
	c.Mark = 5
	c.AddParent(ParentFrom, []byte("from :99\n")) // 99 never emitted
	a.FinalizeParents(c)
	require.Empty(t, c.Parents)
	// with its only parent dropped, the commit is treated as root-like for
	// the keep decision even though it originally had a parent.
	require.True(t, c.ShouldKeep())
}

func TestShouldKeepRootCommit(t *testing.T) {
	a, _ := newAssembler(t)
	c := a.StartCommit([]byte("commit refs/heads/main\n"))
	c.Mark = 1
	a.FinalizeParents(c)
	require.True(t, c.ShouldKeep())
}

func TestShouldKeepCommitWithNoMark(t *testing.T) {
	a, _ := newAssembler(t)
	c := a.StartCommit([]byte("commit refs/heads/main\n"))
	a.FinalizeParents(c)
	require.True(t, c.ShouldKeep())
}

func TestFilterFileChangeModifyLine(t *testing.T) {
	a, _ := newAssembler(t)
	a.Rules = &pathrule.Rules{Paths: [][]byte{[]byte("src/")}}
	out, keep := a.FilterFileChange([]byte("M 100644 :1 src/a.txt\n"))
	require.True(t, keep)
	require.Equal(t, "M 100644 :1 src/a.txt\n", string(out))

	_, keep = a.FilterFileChange([]byte("M 100644 :1 docs/b.txt\n"))
	require.False(t, keep)
}

func TestFilterFileChangeDeleteall(t *testing.T) {
	a, _ := newAssembler(t)
	out, keep := a.FilterFileChange([]byte("deleteall\n"))
	require.True(t, keep)
	require.Equal(t, "deleteall\n", string(out))
}

func TestFilterFileChangeRename(t *testing.T) {
	a, _ := newAssembler(t)
	a.Rules = &pathrule.Rules{Paths: [][]byte{[]byte("src/")}}
	out, keep := a.FilterFileChange([]byte("R src/old.txt src/new.txt\n"))
	require.True(t, keep)
	require.Equal(t, "R src/old.txt src/new.txt\n", string(out))
}

func TestSetMessageAppliesReplacer(t *testing.T) {
	a, _ := newAssembler(t)
	dir := t.TempDir()
	p := dir + "/msg.txt"
	require.NoError(t, os.WriteFile(p, []byte("SECRET==>REDACTED\n"), 0o644))
	repl, err := config.LoadReplacer(p)
	require.NoError(t, err)
	a.MessageRepl = repl

	c := &Commit{}
	a.SetMessage(c, []byte("token=SECRET"))
	require.Equal(t, "token=REDACTED", string(c.Message))
}

func TestDetectInlineFileChange(t *testing.T) {
	fc, ok := DetectInlineFileChange([]byte("M 100644 inline secret.txt\n"))
	require.True(t, ok)
	require.Equal(t, "100644", string(fc.Mode))
	require.Equal(t, "secret.txt", string(fc.Path))

	_, ok = DetectInlineFileChange([]byte("M 100644 :1 src/a.txt\n"))
	require.False(t, ok)
}

// inline content redaction.
func TestBuildInlineFileChangeRewritesPayload(t *testing.T) {
	out := BuildInlineFileChange([]byte("100644"), []byte("secret.txt"), true, []byte("token=REDACTED\n"))
	require.Equal(t, "M 100644 inline secret.txt\ndata 15\ntoken=REDACTED\n", string(out))
}

func TestBuildInlineFileChangeDroppedBecomesDelete(t *testing.T) {
	out := BuildInlineFileChange([]byte("100644"), []byte("big.bin"), false, nil)
	require.Equal(t, "D big.bin\n", string(out))
}

func TestFilterInlinePathRespectsRules(t *testing.T) {
	a, _ := newAssembler(t)
	a.Rules = &pathrule.Rules{Paths: [][]byte{[]byte("src/")}}
	_, keep := a.FilterInlinePath([]byte("docs/b.txt"))
	require.False(t, keep)

	rewritten, keep := a.FilterInlinePath([]byte("src/a.txt"))
	require.True(t, keep)
	require.Equal(t, "src/a.txt", string(rewritten))
}
