package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neodocs/backend/internal/richtext"
)

type fakeLoader struct {
	version int64
	content json.RawMessage
	err     error
	calls   atomic.Int32
	delay   time.Duration
}

func (f *fakeLoader) LoadDocument(ctx context.Context, docID string) (int64, json.RawMessage, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.version, f.content, f.err
}

func paragraph(text string) json.RawMessage {
	b, _ := json.Marshal(richtext.ParagraphDocument(text))
	return b
}

func insertStep(from, to int, text string) richtext.Step {
	step := richtext.Step{StepType: richtext.StepReplace, From: from, To: to}
	if text != "" {
		step.Slice = &richtext.Slice{Content: []richtext.Node{{Type: richtext.TypeText, Text: text}}}
	}
	return step
}

func plain(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	doc, err := richtext.DecodeDocument(raw)
	require.NoError(t, err)
	return richtext.PlainText(doc)
}

func TestJoin_EmptySeed(t *testing.T) {
	r := NewRegistry(&fakeLoader{}, RegistryOptions{})
	_, snap := r.Join(context.Background(), "doc-1", "c1", "u1")

	assert.Equal(t, int64(0), snap.Version)
	assert.JSONEq(t, `{"type":"doc","content":[{"type":"paragraph"}]}`, string(snap.Content))
}

func TestJoin_LoaderFailureFallsBackToEmpty(t *testing.T) {
	r := NewRegistry(&fakeLoader{err: errors.New("db down"), version: 9}, RegistryOptions{})
	_, snap := r.Join(context.Background(), "doc-1", "c1", "u1")

	assert.Equal(t, int64(0), snap.Version)
	assert.JSONEq(t, string(richtext.EmptyDocumentJSON()), string(snap.Content))
}

func TestJoin_PersistedSeed(t *testing.T) {
	r := NewRegistry(&fakeLoader{version: 7, content: paragraph("seeded")}, RegistryOptions{})
	_, snap := r.Join(context.Background(), "doc-1", "c1", "u1")

	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, "seeded", plain(t, snap.Content))
}

func TestApply_VersionAlwaysAdvances(t *testing.T) {
	r := NewRegistry(&fakeLoader{version: 3}, RegistryOptions{})
	s, _ := r.Join(context.Background(), "doc-1", "c1", "u1")

	clientVersions := []int64{0, 99, 3, -1, 4}
	for i, cv := range clientVersions {
		got := s.Apply(Submission{UserID: "u1", ClientVersion: cv, Steps: []richtext.Step{insertStep(1, 1, "x")}})
		assert.Equal(t, int64(3+i+1), got.Version)
	}
	assert.Equal(t, int64(3+len(clientVersions)), s.Snapshot().Version)
	assert.Len(t, s.PendingOps(), len(clientVersions))
}

func TestApply_MismatchFlag(t *testing.T) {
	s := newSession("d", 2, nil, 4, time.Now)
	assert.False(t, s.Apply(Submission{ClientVersion: 2}).Mismatch)
	assert.True(t, s.Apply(Submission{ClientVersion: 2}).Mismatch)
}

func TestApply_FullContentStoredVerbatim(t *testing.T) {
	s := newSession("d", 0, paragraph("abc"), 4, time.Now)
	full := json.RawMessage(`{"type":"doc","content":[{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"T"}]}]}`)

	got := s.Apply(Submission{Content: full, Steps: []richtext.Step{insertStep(1, 1, "ignored")}})

	assert.Equal(t, string(full), string(got.Content))
	assert.Equal(t, string(full), string(s.Snapshot().Content))
}

func TestApply_StepReplayOffsetByOne(t *testing.T) {
	s := newSession("d", 0, paragraph("abc"), 4, time.Now)
	got := s.Apply(Submission{Steps: []richtext.Step{insertStep(1, 1, "X")}})
	assert.Equal(t, "aXbc", plain(t, got.Content))
}

func TestApply_StepReplayClampsAndDeletes(t *testing.T) {
	s := newSession("d", 0, paragraph("hello"), 4, time.Now)
	s.Apply(Submission{Steps: []richtext.Step{insertStep(2, 4, "")}})
	assert.Equal(t, "hlo", plain(t, s.Snapshot().Content))

	s.Apply(Submission{Steps: []richtext.Step{insertStep(50, 80, "!")}})
	assert.Equal(t, "hlo!", plain(t, s.Snapshot().Content))
}

func TestApply_StepReplayFlattensStructure(t *testing.T) {
	content := json.RawMessage(`{"type":"doc","content":[
		{"type":"heading","attrs":{"level":1},"content":[{"type":"text","text":"Ti"}]},
		{"type":"paragraph","content":[{"type":"text","text":"tle","marks":[{"type":"bold"}]}]}]}`)
	s := newSession("d", 0, content, 4, time.Now)
	got := s.Apply(Submission{Steps: []richtext.Step{insertStep(6, 6, "!")}})

	doc, err := richtext.DecodeDocument(got.Content)
	require.NoError(t, err)
	require.Len(t, doc.Content, 1)
	assert.Equal(t, richtext.TypeParagraph, doc.Content[0].Type)
	assert.Equal(t, "Title!", richtext.PlainText(doc))
}

func TestApply_MalformedContentKeepsVersionMoving(t *testing.T) {
	s := newSession("d", 0, json.RawMessage(`{"type":`), 4, time.Now)
	got := s.Apply(Submission{Steps: []richtext.Step{insertStep(1, 1, "x")}})
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, `{"type":`, string(got.Content))
}

func TestPendingOps_Bounded(t *testing.T) {
	s := newSession("d", 0, nil, 3, time.Now)
	for i := 0; i < 5; i++ {
		s.Apply(Submission{UserID: "u"})
	}
	ops := s.PendingOps()
	require.Len(t, ops, 3)
	assert.Equal(t, int64(3), ops[0].Version)
	assert.Equal(t, int64(5), ops[2].Version)
}

func TestReplaceContent_BumpsVersion(t *testing.T) {
	s := newSession("d", 4, nil, 3, time.Now)
	got := s.ReplaceContent(paragraph("synced"))
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, "synced", plain(t, s.Snapshot().Content))
}

func TestLeave_OnlyThatConnection(t *testing.T) {
	r := NewRegistry(nil, RegistryOptions{})
	ctx := context.Background()
	s, _ := r.Join(ctx, "doc", "tab-1", "alice")
	r.Join(ctx, "doc", "tab-2", "alice")
	r.Join(ctx, "doc", "c3", "bob")

	_, ok := s.UpdateCursor("tab-2", json.RawMessage(`{"pos":4}`), nil)
	require.True(t, ok)

	left, ok := s.Leave("tab-1")
	require.True(t, ok)
	assert.Equal(t, "alice", left.UserID)

	_, again := s.Leave("tab-1")
	assert.False(t, again)

	members := s.Presence()
	require.Len(t, members, 2)
	assert.Equal(t, "c3", members[0].ConnID)
	assert.Equal(t, "tab-2", members[1].ConnID)
	assert.JSONEq(t, `{"pos":4}`, string(members[1].Cursor))
}

func TestRegistry_SessionRequiresMembership(t *testing.T) {
	r := NewRegistry(nil, RegistryOptions{})
	_, err := r.Session("nope", "c1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	r.Join(context.Background(), "doc", "c1", "u1")
	_, err = r.Session("doc", "c2")
	assert.ErrorIs(t, err, ErrNotJoined)

	s, err := r.Session("doc", "c1")
	require.NoError(t, err)
	assert.Equal(t, "doc", s.DocumentID())
}

func TestRegistry_SweepEvictsIdleOnly(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := NewRegistry(nil, RegistryOptions{IdleTTL: time.Minute})
	r.now = func() time.Time { return clock }
	ctx := context.Background()

	idle, _ := r.Join(ctx, "idle", "c1", "u1")
	r.Join(ctx, "busy", "c2", "u2")
	idle.Apply(Submission{UserID: "u1"})
	idle.Leave("c1")

	assert.Equal(t, 0, r.Sweep(clock.Add(30*time.Second)))
	assert.Equal(t, 1, r.Sweep(clock.Add(2*time.Minute)))

	_, ok := r.Lookup("idle")
	assert.False(t, ok)
	_, ok = r.Lookup("busy")
	assert.True(t, ok)

	// a late join on the evicted session lands on a fresh one
	_, ok = idle.join("c9", "u9")
	assert.False(t, ok)
	fresh, snap := r.Join(ctx, "idle", "c9", "u9")
	assert.NotSame(t, idle, fresh)
	assert.Equal(t, int64(0), snap.Version)
}

func TestRegistry_ConcurrentJoinLoadsOnce(t *testing.T) {
	loader := &fakeLoader{version: 1, delay: 20 * time.Millisecond}
	r := NewRegistry(loader, RegistryOptions{})

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], _ = r.Join(context.Background(), "doc", string(rune('a'+i)), "u")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Len(t, sessions[0].Presence(), 16)
}

func TestSemaphoreControl(t *testing.T) {
	sem := NewSemaphoreControl(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(ctx), ErrAcquireTimeout)

	require.NoError(t, sem.Release())
	assert.ErrorIs(t, sem.Release(), ErrNotAcquired)
}

func TestApply_NoStepsKeepsContent(t *testing.T) {
	content := json.RawMessage(`{"type":"doc","content":[{"type":"heading","content":[{"type":"text","text":"H"}]}]}`)
	s := newSession("d", 0, content, 4, time.Now)
	got := s.Apply(Submission{})
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, string(content), string(got.Content))
}

func TestRegistry_MembersDistinctUsers(t *testing.T) {
	r := NewRegistry(&fakeLoader{}, RegistryOptions{})
	assert.Nil(t, r.Members("doc-1"))

	ctx := context.Background()
	r.Join(ctx, "doc-1", "c2", "u2")
	r.Join(ctx, "doc-1", "c1", "u1")
	r.Join(ctx, "doc-1", "c3", "u2")

	assert.Equal(t, []string{"u1", "u2"}, r.Members("doc-1"))
}

func TestApplyCommit_RunsInVersionOrder(t *testing.T) {
	r := NewRegistry(&fakeLoader{}, RegistryOptions{})
	s, _ := r.Join(context.Background(), "doc-1", "c1", "u1")

	var (
		mu       sync.Mutex
		versions []int64
		wg       sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				s.ApplyCommit(Submission{UserID: "u1"}, func(a Applied) {
					mu.Lock()
					versions = append(versions, a.Version)
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()

	require.Len(t, versions, 2000)
	for i, v := range versions {
		require.Equal(t, int64(i+1), v)
	}
}

func TestReplaceContentCommit_SeesNewVersion(t *testing.T) {
	r := NewRegistry(&fakeLoader{version: 4}, RegistryOptions{})
	s, _ := r.Join(context.Background(), "doc-1", "c1", "u1")

	var seen Applied
	got := s.ReplaceContentCommit(paragraph("new"), func(a Applied) { seen = a })
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, got, seen)
}
