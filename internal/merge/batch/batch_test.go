package batch

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icstore/internal/constellation/models"
	constellation "icstore/internal/constellation/service"
	"icstore/internal/constellation/store/memory"
	merge "icstore/internal/merge/service"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/requestcontext"
)

func TestFindGroups(t *testing.T) {
	tests := []struct {
		name     string
		names    []models.NameRow
		expected [][]int64
	}{
		{
			name:     "no names",
			names:    nil,
			expected: nil,
		},
		{
			name: "folded exact match",
			names: []models.NameRow{
				{ICID: 1, Original: "Mark Twain"},
				{ICID: 2, Original: "  mark   TWAIN"},
				{ICID: 3, Original: "Jane Doe"},
			},
			expected: [][]int64{{1, 2}},
		},
		{
			name: "same constellation twice is not a duplicate",
			names: []models.NameRow{
				{ICID: 1, Original: "Mark Twain"},
				{ICID: 1, Original: "mark twain"},
			},
			expected: nil,
		},
		{
			name: "overlapping candidates join one group",
			names: []models.NameRow{
				{ICID: 5, Original: "Samuel Clemens"},
				{ICID: 9, Original: "Samuel Clemens"},
				{ICID: 9, Original: "Mark Twain"},
				{ICID: 2, Original: "Mark Twain"},
				{ICID: 7, Original: "Jane Doe"},
				{ICID: 4, Original: "JANE DOE"},
			},
			expected: [][]int64{{2, 5, 9}, {4, 7}},
		},
		{
			name: "blank names are ignored",
			names: []models.NameRow{
				{ICID: 1, Original: " "},
				{ICID: 2, Original: ""},
			},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FindGroups(tt.names))
		})
	}
}

type stubMerger struct {
	mu    sync.Mutex
	calls [][]int64
	fail  map[int64]error
}

func (m *stubMerger) AutoMerge(_ context.Context, ids []int64, _ string) (*models.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ids)
	if err, ok := m.fail[ids[0]]; ok {
		return nil, err
	}
	return &models.MergeResult{SurvivorID: ids[0], Version: 100, Tombstoned: ids[1:]}, nil
}

type stubNames []models.NameRow

func (s stubNames) CurrentNames(context.Context) ([]models.NameRow, error) { return s, nil }

func TestMergeIsolatesFailures(t *testing.T) {
	merger := &stubMerger{fail: map[int64]error{
		3: &models.MergeError{ICIDs: []int64{3, 4}, Reason: "fewer than two active constellations remain"},
	}}
	runner, err := New(stubNames{}, merger, WithConcurrency(2))
	require.NoError(t, err)

	report := runner.Merge(context.Background(), [][]int64{{1, 2}, {3, 4}, {5, 6}}, "")

	assert.Len(t, merger.calls, 3)
	assert.Equal(t, 3, report.Groups)
	require.Len(t, report.Merged, 2)
	assert.Equal(t, int64(1), report.Merged[0].SurvivorID)
	assert.Equal(t, int64(5), report.Merged[1].SurvivorID)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, []int64{3, 4}, report.Failed[0].ICIDs)
	assert.Equal(t, string(dErrors.CodeMergeFailed), report.Failed[0].Code)
	assert.NotEmpty(t, report.RunID)
}

func TestMergeHonoursCancellation(t *testing.T) {
	merger := &stubMerger{}
	runner, err := New(stubNames{}, merger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := runner.Merge(ctx, [][]int64{{1, 2}}, "")

	assert.Empty(t, merger.calls)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, string(dErrors.CodeTimeout), report.Failed[0].Code)
}

func TestReportRoundTrip(t *testing.T) {
	report := &Report{
		RunID:  "run-1",
		Groups: 2,
		Merged: []MergedGroup{{ICIDs: []int64{1, 2}, SurvivorID: 1, Version: 7}},
		Failed: []FailedGroup{{ICIDs: []int64{3, 4}, Code: "merge_failed", Reason: "locked"}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))
	assert.Contains(t, buf.String(), "ic_ids: [3, 4]")

	decoded, err := ReadReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{3, 4}}, decoded.FailedICIDs())
	assert.Equal(t, "run-1", decoded.RunID)
}

func TestRunAgainstStore(t *testing.T) {
	store := memory.New()
	constellations, err := constellation.New(store)
	require.NoError(t, err)
	merger, err := merge.New(store, constellations)
	require.NoError(t, err)
	runner, err := New(store, merger)
	require.NoError(t, err)

	alice := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{ID: "alice"})
	bob := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{ID: "bob"})
	create := func(names ...string) int64 {
		set := models.EditSet{}
		for _, n := range names {
			set.Entities = append(set.Entities, &models.NameEntry{Original: n})
		}
		res, err := constellations.Create(alice, constellation.CreateRequest{EntityType: models.EntityTypePerson, Edits: set})
		require.NoError(t, err)
		_, err = constellations.SetStatus(alice, res.ICID, models.StatusPublished, "")
		require.NoError(t, err)
		return res.ICID
	}

	twain1 := create("Mark Twain")
	twain2 := create("mark twain")
	doe1 := create("Jane Doe")
	doe2 := create("JANE DOE")
	create("Unique Person")

	_, err = constellations.Checkout(bob, doe2)
	require.NoError(t, err)

	report, err := runner.Run(alice)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Groups)
	require.Len(t, report.Merged, 1)
	assert.Equal(t, []int64{twain1, twain2}, report.Merged[0].ICIDs)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, []int64{doe1, doe2}, report.Failed[0].ICIDs)

	_, err = constellations.SetStatus(bob, doe2, models.StatusPublished, "")
	require.NoError(t, err)

	retry := runner.Retry(alice, report)
	assert.Equal(t, report.RunID, retry.RetryOf)
	require.Len(t, retry.Merged, 1)
	assert.Equal(t, doe1, retry.Merged[0].SurvivorID)
	assert.Empty(t, retry.Failed)

	again, err := runner.Run(alice)
	require.NoError(t, err)
	assert.Zero(t, again.Groups)
}
