package storage

import (
	"context"
	"testing"
	"time"

	"github.com/robin-sci/health-assistant/pkg/models"
)

func newTestSession(t *testing.T, store *Store, userID string) *models.ChatSession {
	t.Helper()
	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:             "sess-" + userID,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := store.Sessions.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func TestMessagesOrderedWithSeqTiebreak(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := newTestSession(t, store, "u1")

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, content := range []string{"first", "second", "third"} {
		msg := &models.ChatMessage{
			ID:        "msg-" + content,
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: ts, // identical timestamps force the seq tiebreak
		}
		if err := store.Sessions.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage(%s): %v", content, err)
		}
	}

	msgs, err := store.Sessions.Messages(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []string{"first", "second", "third"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestAppendMessageAdvancesLastActivity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := newTestSession(t, store, "u1")

	later := session.LastActivityAt.Add(time.Hour)
	err := store.Sessions.AppendMessage(ctx, session.ID, &models.ChatMessage{
		ID:        "m1",
		Role:      models.RoleUser,
		Content:   "hello",
		CreatedAt: later,
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := store.Sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, later)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := newTestSession(t, store, "u1")

	if err := store.Sessions.AppendMessage(ctx, session.ID, &models.ChatMessage{ID: "m1", Role: models.RoleUser, Content: "x"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.Sessions.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.Sessions.GetSession(ctx, session.ID); err != ErrNotFound {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}
	if _, err := store.Sessions.Messages(ctx, session.ID, 0); err != ErrNotFound {
		t.Errorf("Messages after delete = %v, want ErrNotFound", err)
	}
}

func TestInsertLabDedup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	base := &models.LabResult{
		ID:         "lab-1",
		UserID:     "u1",
		TestName:   "HbA1c",
		Value:      5.6,
		Unit:       "%",
		RecordedAt: day,
	}
	inserted, err := store.Labs.InsertLab(ctx, base)
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v), want (true, nil)", inserted, err)
	}

	// Same name (different case), same day, different value: skipped.
	dup := &models.LabResult{
		ID:         "lab-2",
		UserID:     "u1",
		TestName:   "hba1c",
		Value:      6.1,
		Unit:       "%",
		RecordedAt: day,
	}
	inserted, err = store.Labs.InsertLab(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert reported as inserted")
	}

	labs, err := store.Labs.ListLabs(ctx, "u1", LabQuery{})
	if err != nil {
		t.Fatalf("ListLabs: %v", err)
	}
	if len(labs) != 1 {
		t.Fatalf("got %d labs, want 1", len(labs))
	}
	if labs[0].Value != 5.6 {
		t.Errorf("stored value = %v, want 5.6 (duplicates must not update)", labs[0].Value)
	}

	// Same test on a different day inserts.
	other := &models.LabResult{
		ID:         "lab-3",
		UserID:     "u1",
		TestName:   "HbA1c",
		Value:      5.9,
		Unit:       "%",
		RecordedAt: day.AddDate(0, 0, 1),
	}
	if inserted, err := store.Labs.InsertLab(ctx, other); err != nil || !inserted {
		t.Fatalf("different-day insert = (%v, %v), want (true, nil)", inserted, err)
	}
}

func TestInsertLabDedupByCode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	a := &models.LabResult{ID: "a", UserID: "u1", TestName: "Hemoglobin A1c", TestCode: "4548-4", Value: 5.6, Unit: "%", RecordedAt: day}
	b := &models.LabResult{ID: "b", UserID: "u1", TestName: "HbA1c", TestCode: "4548-4", Value: 5.6, Unit: "%", RecordedAt: day}

	if inserted, _ := store.Labs.InsertLab(ctx, a); !inserted {
		t.Fatal("first coded insert skipped")
	}
	if inserted, _ := store.Labs.InsertLab(ctx, b); inserted {
		t.Error("same code and day inserted twice")
	}
}

func TestLabQueryFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	seed := []struct {
		name string
		day  time.Time
	}{
		{"HbA1c", now.AddDate(0, 0, -10)},
		{"HbA1c", now.AddDate(0, 0, -200)},
		{"Ferritin", now.AddDate(0, 0, -5)},
	}
	for i, s := range seed {
		lab := &models.LabResult{
			ID:         string(rune('a' + i)),
			UserID:     "u1",
			TestName:   s.name,
			Value:      1,
			Unit:       "x",
			RecordedAt: s.day,
		}
		if _, err := store.Labs.InsertLab(ctx, lab); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	labs, err := store.Labs.ListLabs(ctx, "u1", LabQuery{
		Since:    now.AddDate(0, 0, -90),
		TestName: "hba",
	})
	if err != nil {
		t.Fatalf("ListLabs: %v", err)
	}
	if len(labs) != 1 {
		t.Fatalf("got %d labs, want 1 (since+name filters)", len(labs))
	}

	names, err := store.Labs.TestNames(ctx, "u1")
	if err != nil {
		t.Fatalf("TestNames: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("TestNames = %v, want 2 distinct", names)
	}
}

func TestStreamGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Streams.Acquire(ctx, "s1"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := store.Streams.Acquire(ctx, "s1"); err != ErrStreamActive {
		t.Errorf("second Acquire = %v, want ErrStreamActive", err)
	}
	// A different session is unaffected.
	if err := store.Streams.Acquire(ctx, "s2"); err != nil {
		t.Errorf("Acquire other session: %v", err)
	}
	store.Streams.Release(ctx, "s1")
	if err := store.Streams.Acquire(ctx, "s1"); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
}

func TestDocumentStatusTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	doc := &models.MedicalDocument{
		ID:        "d1",
		UserID:    "u1",
		Status:    models.DocumentUploading,
		CreatedAt: time.Now(),
	}
	if err := store.Documents.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// Skipping a stage is rejected.
	if err := store.Documents.SetStatus(ctx, "d1", models.DocumentParsed, DocumentUpdate{}); err != ErrConflict {
		t.Errorf("uploading->parsed = %v, want ErrConflict", err)
	}

	raw := "raw text"
	steps := []struct {
		status models.DocumentStatus
		update DocumentUpdate
	}{
		{models.DocumentParsing, DocumentUpdate{}},
		{models.DocumentParsed, DocumentUpdate{RawText: &raw}},
		{models.DocumentExtracting, DocumentUpdate{}},
		{models.DocumentCompleted, DocumentUpdate{ParsedData: []byte(`{"saved":1}`)}},
	}
	for _, step := range steps {
		if err := store.Documents.SetStatus(ctx, "d1", step.status, step.update); err != nil {
			t.Fatalf("transition to %s: %v", step.status, err)
		}
	}

	got, err := store.Documents.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.RawText != raw {
		t.Errorf("RawText = %q, want %q", got.RawText, raw)
	}

	// Terminal states reject everything, including failed.
	if err := store.Documents.SetStatus(ctx, "d1", models.DocumentFailed, DocumentUpdate{}); err != ErrConflict {
		t.Errorf("completed->failed = %v, want ErrConflict", err)
	}
}

func TestDeleteDocumentKeepsLabs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	doc := &models.MedicalDocument{ID: "d1", UserID: "u1", Status: models.DocumentCompleted, CreatedAt: time.Now()}
	if err := store.Documents.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	lab := &models.LabResult{
		ID:         "l1",
		UserID:     "u1",
		DocumentID: "d1",
		TestName:   "Ferritin",
		Value:      80,
		Unit:       "ng/mL",
		RecordedAt: time.Now(),
	}
	if _, err := store.Labs.InsertLab(ctx, lab); err != nil {
		t.Fatalf("InsertLab: %v", err)
	}

	if err := store.Documents.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	labs, err := store.Labs.ListLabs(ctx, "u1", LabQuery{})
	if err != nil {
		t.Fatalf("ListLabs: %v", err)
	}
	if len(labs) != 1 {
		t.Fatalf("lab rows deleted with document")
	}
	if labs[0].DocumentID != "" {
		t.Errorf("DocumentID = %q, want cleared", labs[0].DocumentID)
	}
}

func TestQueueClaimCompleteAndEmpty(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if job, err := store.Queue.Claim(ctx); err != nil || job != nil {
		t.Fatalf("Claim on empty queue = (%v, %v), want (nil, nil)", job, err)
	}

	if err := store.Queue.Enqueue(ctx, &IngestJob{ID: "j1", DocumentID: "d1", UserID: "u1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.Queue.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("Claim = (%v, %v), want job", job, err)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}

	// Claimed but unfinished jobs are invisible until the visibility timeout.
	if again, _ := store.Queue.Claim(ctx); again != nil {
		t.Error("claimed job redelivered immediately")
	}

	if err := store.Queue.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gone, _ := store.Queue.Claim(ctx); gone != nil {
		t.Error("completed job redelivered")
	}
}

func TestQueueRedeliveryAfterVisibility(t *testing.T) {
	store := NewMemoryStore()
	ms := store.Queue.(*MemoryStore)
	ms.visibility = time.Millisecond
	ctx := context.Background()

	if err := store.Queue.Enqueue(ctx, &IngestJob{ID: "j1", DocumentID: "d1", UserID: "u1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job, _ := store.Queue.Claim(ctx); job == nil {
		t.Fatal("first claim failed")
	}
	time.Sleep(5 * time.Millisecond)

	job, err := store.Queue.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("redelivery claim = (%v, %v), want job", job, err)
	}
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", job.Attempts)
	}
}
