package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

func rec(url, title string) Record {
	return Record{OriginalURL: url, Title: title}
}

func TestRecord_JSONSchema(t *testing.T) {
	price := "120 грн."
	r := Record{
		OriginalURL:     "https://shop.test/p1",
		Title:           "Lamp",
		Price:           &price,
		ExtraImages:     []string{},
		AllImages:       []string{},
		Characteristics: map[string]map[string]string{"Main": {"Color": "red"}},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"original_url", "title", "price", "image", "extra_images", "all_images",
		"user_content_html", "user_content_text", "characteristics", "specification_links",
	} {
		assert.Contains(t, m, key)
	}
	assert.Nil(t, m["image"], "missing image must serialize as null")
	assert.NotContains(t, m, "user_content_markdown", "markdown is omitted when empty")
	assert.Equal(t, "https://shop.test/p1", r.SourceURL())
	assert.Equal(t, "Lamp", r.DisplayName())
}

func TestGroupPage_IsLeaf(t *testing.T) {
	assert.True(t, GroupPage{Title: "Leaf"}.IsLeaf())
	assert.False(t, GroupPage{Title: "Node", Subgroups: []string{"https://shop.test/g1"}}.IsLeaf())
}

func TestWorkBatch_Lifecycle(t *testing.T) {
	b := NewWorkBatch("/out/leaf", "https://shop.test/list", []string{"u1", "u2", "u3", "u2"})
	require.NotEmpty(t, b.ID)
	assert.Equal(t, 3, b.Len(), "duplicates are dropped")
	assert.Equal(t, []string{"u1", "u2", "u3"}, b.Pending())

	assert.True(t, b.Complete(rec("u2", "two")))
	assert.False(t, b.Complete(rec("u2", "again")), "first record for a URL wins")
	assert.False(t, b.Complete(rec("unknown", "x")), "unknown URLs are rejected")
	assert.True(t, b.Skip("u3", "Content_Extraction"))
	assert.False(t, b.Skip("u2", "x"), "completed URL cannot be skipped")

	assert.Equal(t, []string{"u1"}, b.Pending())
	assert.False(t, b.Done())

	assert.True(t, b.Complete(rec("u1", "one")))
	assert.True(t, b.Done())
	assert.Empty(t, b.Pending())

	records := b.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "one", records[0].Title, "records follow discovery order")
	assert.Equal(t, "two", records[1].Title)
	assert.Equal(t, []FailedURLInfo{{URL: "u3", ErrorType: "Content_Extraction"}}, b.Skipped())
}

func TestWorkBatch_InvariantHolds(t *testing.T) {
	urls := []string{"a", "b", "c", "d"}
	b := NewWorkBatch("/out", "", urls)
	b.Complete(rec("c", "C"))
	b.Skip("a", "x")

	seen := map[string]int{}
	for _, u := range b.Pending() {
		seen[u]++
	}
	for _, r := range b.Records() {
		seen[r.SourceURL()]++
	}
	for _, f := range b.Skipped() {
		seen[f.URL]++
	}
	for _, u := range urls {
		assert.Equal(t, 1, seen[u], "url %s must be in exactly one state", u)
	}
}

func TestSnapshot_RoundTripThroughBatch(t *testing.T) {
	b := NewWorkBatch("/out/leaf", "https://shop.test/list", []string{"u1", "u2", "u3"})
	b.Attempt = 2
	b.Complete(rec("u1", "one"))

	snap := b.Snapshot(SessionStatusAborted, errors.New("connection reset"))
	assert.Equal(t, []string{"u2", "u3"}, snap.Pending)
	assert.Equal(t, "connection reset", snap.LastError)
	require.NoError(t, snap.Validate())

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored := BatchFromSnapshot(decoded)
	assert.Equal(t, b.ID, restored.ID)
	assert.Equal(t, 2, restored.Attempt)
	assert.Equal(t, []string{"u1", "u2", "u3"}, restored.URLs())
	assert.Equal(t, []string{"u2", "u3"}, restored.Pending())
	assert.Equal(t, 1, restored.CompletedCount())
}

func TestBatchFromSnapshot_WithoutURLList(t *testing.T) {
	snap := Snapshot{
		ID:        "legacy",
		OutputDir: "/out",
		Pending:   []string{"u2"},
		Completed: []Record{rec("u1", "one")},
	}
	b := BatchFromSnapshot(snap)
	assert.Equal(t, []string{"u1", "u2"}, b.URLs())
	assert.Equal(t, []string{"u2"}, b.Pending())
}

func TestSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{"complete", Snapshot{OutputDir: "/out", Pending: []string{"u"}}, false},
		{"missing dir", Snapshot{Pending: []string{"u"}}, true},
		{"records without pending", Snapshot{OutputDir: "/out", Completed: []Record{rec("u", "t")}}, true},
		{"empty", Snapshot{OutputDir: "/out"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, utils.ErrIncompleteSnapshot))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
