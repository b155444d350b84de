package lsp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/google/go-cmp/cmp"
)

func int32p(v int32) *int32 { return &v }

func TestConvertWorkspaceEditChanges(t *testing.T) {
	edit := &protocol.WorkspaceEdit{
		Changes: map[protocol.DocumentURI][]protocol.TextEdit{
			"file:///b.go": {{NewText: "b"}},
			"file:///a.go": {{NewText: "a"}},
		},
	}
	got, err := ConvertWorkspaceEdit(context.Background(), edit)
	if err != nil {
		t.Fatalf("ConvertWorkspaceEdit failed: %v", err)
	}
	want := []DocumentEdit{
		{URI: "file:///a.go", Edits: []protocol.TextEdit{{NewText: "a"}}},
		{URI: "file:///b.go", Edits: []protocol.TextEdit{{NewText: "b"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("converted edit mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertWorkspaceEditDocumentChanges(t *testing.T) {
	var edit protocol.WorkspaceEdit
	err := json.Unmarshal([]byte(`{
		"changes": {"file:///ignored.go": []},
		"documentChanges": [
			{"textDocument": {"uri": "file:///a.go", "version": 3}, "edits": [{"range": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 0}}, "newText": "x"}]},
			{"kind": "rename", "oldUri": "file:///a.go", "newUri": "file:///b.go"},
			{"kind": "delete", "uri": "file:///c.go", "options": {"recursive": true}}
		]
	}`), &edit)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, err := ConvertWorkspaceEdit(context.Background(), &edit)
	if err != nil {
		t.Fatalf("ConvertWorkspaceEdit failed: %v", err)
	}
	want := []DocumentEdit{
		{URI: "file:///a.go", Version: int32p(3), Edits: []protocol.TextEdit{{NewText: "x"}}},
		{URI: "file:///a.go", NewURI: "file:///b.go", Op: protocol.RenameOp},
		{URI: "file:///c.go", Op: protocol.DeleteOp, Options: &protocol.FileOptions{Recursive: true}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("converted edit mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleEdit(t *testing.T) {
	versions := map[protocol.DocumentURI]int32{
		"file:///a.go": 5,
		"file:///b.go": 0,
	}
	version := func(uri protocol.DocumentURI) (int32, bool) {
		v, ok := versions[uri]
		return v, ok
	}
	for _, tc := range []struct {
		name  string
		edits []DocumentEdit
		stale bool
	}{
		{"NoVersion", []DocumentEdit{{URI: "file:///a.go"}}, false},
		{"Current", []DocumentEdit{{URI: "file:///a.go", Version: int32p(5)}}, false},
		{"Old", []DocumentEdit{{URI: "file:///a.go", Version: int32p(4)}}, true},
		{"VersionZero", []DocumentEdit{{URI: "file:///b.go", Version: int32p(1)}}, true},
		{"CurrentZero", []DocumentEdit{{URI: "file:///b.go", Version: int32p(0)}}, false},
		{"Negative", []DocumentEdit{{URI: "file:///a.go", Version: int32p(-1)}}, false},
		{"NotOpen", []DocumentEdit{{URI: "file:///c.go", Version: int32p(9)}}, false},
		{"ResourceOp", []DocumentEdit{{URI: "file:///a.go", Version: int32p(1), Op: protocol.DeleteOp}}, false},
		{"SecondStale", []DocumentEdit{
			{URI: "file:///b.go", Version: int32p(0)},
			{URI: "file:///a.go", Version: int32p(1)},
		}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, stale := staleEdit(tc.edits, version)
			if stale != tc.stale {
				t.Errorf("stale is %v; want %v", stale, tc.stale)
			}
		})
	}
}

func TestEditSerializerOrder(t *testing.T) {
	s := NewEditSerializer()
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []int
	)
	release := make(chan struct{})
	started := make(chan struct{})
	go s.Do(ctx, func(ctx context.Context) error {
		close(started)
		<-release
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		return nil
	})
	<-started

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			s.Do(ctx, func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Queue the waiters in a known order.
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	if want := []int{0, 1, 2, 3}; !cmp.Equal(order, want) {
		t.Errorf("edits ran in order %v; want %v", order, want)
	}
}

func TestEditSerializerCancel(t *testing.T) {
	s := NewEditSerializer()
	release := make(chan struct{})
	started := make(chan struct{})
	go s.Do(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != context.Canceled {
		t.Errorf("Do with cancelled context returned %v; want %v", err, context.Canceled)
	}
	if called {
		t.Errorf("function ran although the context was cancelled")
	}
}
