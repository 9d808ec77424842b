package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robin-sci/health-assistant/pkg/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-user dev setups where no STORE_URL is configured.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*models.ChatSession
	messages map[string][]*models.ChatMessage // keyed by session ID
	seq      int64

	documents map[string]*models.MedicalDocument

	labs []*models.LabResult

	symptoms []*models.SymptomEntry

	seriesTypes map[string]models.SeriesType
	points      []*models.WearablePoint

	activeStreams map[string]struct{}

	queue   []*IngestJob
	claimed map[string]time.Time
	// VisibilityTimeout controls when claimed jobs become claimable again.
	visibility time.Duration
}

// NewMemoryStore returns an empty in-memory store bundle.
func NewMemoryStore() *Store {
	m := &MemoryStore{
		sessions:      make(map[string]*models.ChatSession),
		messages:      make(map[string][]*models.ChatMessage),
		documents:     make(map[string]*models.MedicalDocument),
		seriesTypes:   make(map[string]models.SeriesType),
		activeStreams: make(map[string]struct{}),
		claimed:       make(map[string]time.Time),
		visibility:    2 * time.Minute,
	}
	return &Store{
		Sessions:  m,
		Documents: m,
		Labs:      m,
		Symptoms:  m,
		Wearables: m,
		Streams:   m,
		Queue:     m,
	}
}

// Sessions

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return ErrConflict
	}
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ChatSession
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) SetTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Title = title
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	m.seq++
	clone := *msg
	clone.SessionID = sessionID
	clone.Seq = m.seq
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.messages[sessionID] = append(m.messages[sessionID], &clone)
	if clone.CreatedAt.After(session.LastActivityAt) {
		session.LastActivityAt = clone.CreatedAt
	}
	msg.Seq = clone.Seq
	msg.CreatedAt = clone.CreatedAt
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := m.messages[sessionID]
	out := make([]*models.ChatMessage, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Documents

func (m *MemoryStore) CreateDocument(ctx context.Context, doc *models.MedicalDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return ErrConflict
	}
	clone := *doc
	m.documents[doc.ID] = &clone
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*models.MedicalDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, userID string, limit int) ([]*models.MedicalDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.MedicalDocument
	for _, d := range m.documents {
		if d.UserID != userID {
			continue
		}
		clone := *d
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return ErrNotFound
	}
	delete(m.documents, id)
	for _, lab := range m.labs {
		if lab.DocumentID == id {
			lab.DocumentID = ""
		}
	}
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status models.DocumentStatus, update DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}
	if !doc.Status.CanTransitionTo(status) {
		return ErrConflict
	}
	doc.Status = status
	if update.RawText != nil {
		doc.RawText = *update.RawText
	}
	if update.ParsedData != nil {
		doc.ParsedData = update.ParsedData
	}
	return nil
}

// Labs

func labDedupKey(lab *models.LabResult) string {
	day := lab.RecordedAt.UTC().Format("2006-01-02")
	if lab.TestCode != "" {
		return lab.UserID + "\x00code\x00" + lab.TestCode + "\x00" + day
	}
	return lab.UserID + "\x00name\x00" + strings.ToLower(lab.TestName) + "\x00" + day
}

func (m *MemoryStore) InsertLab(ctx context.Context, lab *models.LabResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := labDedupKey(lab)
	for _, existing := range m.labs {
		if labDedupKey(existing) == key {
			return false, nil
		}
	}
	clone := *lab
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.labs = append(m.labs, &clone)
	return true, nil
}

func (m *MemoryStore) ListLabs(ctx context.Context, userID string, q LabQuery) ([]*models.LabResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.LabResult
	needle := strings.ToLower(q.TestName)
	for _, lab := range m.labs {
		if lab.UserID != userID {
			continue
		}
		if !q.Since.IsZero() && lab.RecordedAt.Before(q.Since) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(lab.TestName), needle) {
			continue
		}
		clone := *lab
		out = append(out, &clone)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Ascending {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) TestNames(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var names []string
	for _, lab := range m.labs {
		if lab.UserID != userID {
			continue
		}
		if _, ok := seen[lab.TestName]; ok {
			continue
		}
		seen[lab.TestName] = struct{}{}
		names = append(names, lab.TestName)
	}
	sort.Strings(names)
	return names, nil
}

// Symptoms

func (m *MemoryStore) CreateSymptom(ctx context.Context, entry *models.SymptomEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.symptoms = append(m.symptoms, &clone)
	return nil
}

func (m *MemoryStore) ListSymptoms(ctx context.Context, userID string, q SymptomQuery) ([]*models.SymptomEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SymptomEntry
	for _, s := range m.symptoms {
		if s.UserID != userID {
			continue
		}
		if !q.Since.IsZero() && s.RecordedAt.Before(q.Since) {
			continue
		}
		if q.SymptomType != "" && s.SymptomType != q.SymptomType {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SymptomTypes(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var types []string
	for _, s := range m.symptoms {
		if s.UserID != userID {
			continue
		}
		if _, ok := seen[s.SymptomType]; ok {
			continue
		}
		seen[s.SymptomType] = struct{}{}
		types = append(types, s.SymptomType)
	}
	sort.Strings(types)
	return types, nil
}

// Wearables

// RegisterSeries adds a series type to the catalog. Tests and the dev seed
// use this; production catalogs come from the sync adapters' schema.
func (m *MemoryStore) RegisterSeries(st models.SeriesType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seriesTypes[st.Code] = st
}

// AddPoint appends one raw wearable sample.
func (m *MemoryStore) AddPoint(p models.WearablePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := p
	m.points = append(m.points, &clone)
}

func (m *MemoryStore) SeriesType(ctx context.Context, code string) (*models.SeriesType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.seriesTypes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) SeriesTypes(ctx context.Context) ([]models.SeriesType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SeriesType, 0, len(m.seriesTypes))
	for _, st := range m.seriesTypes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) DailyAggregates(ctx context.Context, userID, code string, since time.Time, loc *time.Location) ([]models.DailyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if loc == nil {
		loc = time.UTC
	}
	buckets := make(map[string]*models.DailyAggregate)
	for _, p := range m.points {
		if p.UserID != userID || p.SeriesCode != code {
			continue
		}
		if !since.IsZero() && p.RecordedAt.Before(since) {
			continue
		}
		day := models.DayKey(p.RecordedAt, loc)
		agg, ok := buckets[day]
		if !ok {
			agg = &models.DailyAggregate{Day: day, Min: p.Value, Max: p.Value}
			buckets[day] = agg
		}
		if p.Value < agg.Min || agg.Count == 0 {
			agg.Min = p.Value
		}
		if p.Value > agg.Max || agg.Count == 0 {
			agg.Max = p.Value
		}
		agg.Sum += p.Value
		agg.Count++
	}
	out := make([]models.DailyAggregate, 0, len(buckets))
	for _, agg := range buckets {
		agg.Mean = agg.Sum / float64(agg.Count)
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// Stream guard

func (m *MemoryStore) Acquire(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.activeStreams[sessionID]; held {
		return ErrStreamActive
	}
	m.activeStreams[sessionID] = struct{}{}
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeStreams, sessionID)
}

// Job queue

func (m *MemoryStore) Enqueue(ctx context.Context, job *IngestJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	if clone.EnqueuedAt.IsZero() {
		clone.EnqueuedAt = time.Now().UTC()
	}
	m.queue = append(m.queue, &clone)
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context) (*IngestJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, job := range m.queue {
		claimedAt, claimed := m.claimed[job.ID]
		if claimed && now.Sub(claimedAt) < m.visibility {
			continue
		}
		m.claimed[job.ID] = now
		job.Attempts++
		clone := *job
		return &clone, nil
	}
	return nil, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeJob(id)
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeJob(id)
	return nil
}

func (m *MemoryStore) removeJob(id string) {
	delete(m.claimed, id)
	for i, job := range m.queue {
		if job.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
