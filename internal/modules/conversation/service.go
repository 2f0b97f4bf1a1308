package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/pagination"
	"github.com/prism-ai/prism/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	// TempIDPrefix marks conversations that have not been saved yet.
	TempIDPrefix = "temp-"
	// DefaultTitle names a conversation until its first message.
	DefaultTitle = "New Chat"

	defaultDebounce = 1500 * time.Millisecond
	maxSaveBackoff  = time.Minute
	titleMaxRunes   = 40
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrEmptyMessage = errors.New("message content or file is required")
	ErrBusy         = errors.New("conversation is already answering")
)

// Conversation is a chat as returned to clients.
type Conversation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id,omitempty"`
	Title     string           `json:"title"`
	Messages  []models.Message `json:"messages"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
}

// Streamer produces a chat answer; *ai.ChatService satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req ai.ChatRequest) <-chan ai.ChatEvent
}

type stopper interface{ Stop() bool }

type live struct {
	conv      Conversation
	owner     string
	persisted bool
	timer     stopper
	dirty     bool
	saving    bool
	answering bool
	// failures counts consecutive failed saves.
	failures int
}

// Service keeps conversations in memory and saves those of signed-in users
// after a quiet period following each change.
type Service struct {
	repo     Repository
	chat     Streamer
	debounce time.Duration
	log      *zap.Logger

	afterFunc func(time.Duration, func()) stopper
	now       func() time.Time

	mu      sync.Mutex
	live    map[string]*live
	aliases map[string]string
	saves   sync.WaitGroup
}

func NewService(repo Repository, chat Streamer, debounce time.Duration, log *zap.Logger) *Service {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		chat:     chat,
		debounce: debounce,
		log:      log.Named("conversation"),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		now:     time.Now,
		live:    make(map[string]*live),
		aliases: make(map[string]string),
	}
}

func (s *Service) canPersist(scope clientscope.Scope) bool {
	return s.repo != nil && scope.Authenticated()
}

func cloneConversation(c Conversation) Conversation {
	c.Messages = append([]models.Message(nil), c.Messages...)
	return c
}

func fromModel(m models.ConversationModel) Conversation {
	created, updated := m.CreatedAt, m.UpdatedAt
	return Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Messages:  append([]models.Message(nil), m.Messages...),
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
}

// resolveLocked maps a temporary id to the server id once it has been swapped.
func (s *Service) resolveLocked(id string) string {
	if real, ok := s.aliases[id]; ok {
		return real
	}
	return id
}

// lookup returns the live entry for id, loading it from the database for
// signed-in owners. The caller must not hold s.mu.
func (s *Service) lookup(ctx context.Context, id string) (*live, error) {
	scope, err := clientscope.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	l, ok := s.live[s.resolveLocked(id)]
	s.mu.Unlock()
	if ok {
		if l.owner != scope.ID {
			return nil, ErrNotFound
		}
		return l, nil
	}
	if !s.canPersist(scope) || strings.HasPrefix(id, TempIDPrefix) {
		return nil, ErrNotFound
	}

	m, err := s.repo.Get(ctx, scope.UserID, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live[m.ID]; ok {
		return existing, nil
	}
	l = &live{conv: fromModel(m), owner: scope.ID, persisted: true}
	s.live[m.ID] = l
	return l, nil
}

// Create starts a conversation with a temporary id.
func (s *Service) Create(ctx context.Context, title string) (Conversation, error) {
	scope, err := clientscope.Require(ctx)
	if err != nil {
		return Conversation{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	l := &live{
		conv: Conversation{
			ID:       TempIDPrefix + uuid.NewString(),
			UserID:   scope.UserID,
			Title:    title,
			Messages: []models.Message{},
		},
		owner: scope.ID,
	}
	s.mu.Lock()
	s.live[l.conv.ID] = l
	s.mu.Unlock()
	return cloneConversation(l.conv), nil
}

// Get returns a conversation of the caller.
func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConversation(l.conv), nil
}

// List pages through the caller's conversations. Unsaved conversations are
// listed first on the first page.
func (s *Service) List(ctx context.Context, q pagination.Query) ([]Conversation, response.Pagination, error) {
	scope, err := clientscope.Require(ctx)
	if err != nil {
		return nil, response.Pagination{}, err
	}

	s.mu.Lock()
	var pending []Conversation
	for _, l := range s.live {
		if l.owner == scope.ID && !l.persisted {
			pending = append(pending, cloneConversation(l.conv))
		}
	}
	s.mu.Unlock()
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	if !s.canPersist(scope) {
		return pageSlice(pending, q)
	}

	rows, pag, err := s.repo.List(ctx, scope.UserID, q)
	if err != nil {
		return nil, response.Pagination{}, err
	}
	out := make([]Conversation, 0, len(rows)+len(pending))
	if q.Page <= 1 {
		out = append(out, pending...)
	}
	s.mu.Lock()
	for _, m := range rows {
		// Live state is newer than what the last save wrote.
		if l, ok := s.live[m.ID]; ok {
			out = append(out, cloneConversation(l.conv))
			continue
		}
		out = append(out, fromModel(m))
	}
	s.mu.Unlock()
	pag.Total += int64(len(pending))
	return out, pag, nil
}

func pageSlice(items []Conversation, q pagination.Query) ([]Conversation, response.Pagination, error) {
	if q.Size <= 0 {
		q.Size = pagination.DefaultSize
	}
	if q.Page <= 0 {
		q.Page = pagination.DefaultPage
	}
	total := len(items)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Size
	if end > total {
		end = total
	}
	totalPage := (total + q.Size - 1) / q.Size
	return items[start:end], response.Pagination{
		Total:       int64(total),
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}, nil
}

// mutate applies fn to the live conversation and schedules a save.
func (s *Service) mutate(ctx context.Context, id string, fn func(c *Conversation) error) (Conversation, error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	return s.apply(l, fn)
}

func (s *Service) apply(l *live, fn func(c *Conversation) error) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&l.conv); err != nil {
		return Conversation{}, err
	}
	now := s.now()
	l.conv.UpdatedAt = &now
	s.scheduleLocked(l)
	return cloneConversation(l.conv), nil
}

// Rename sets the title.
func (s *Service) Rename(ctx context.Context, id, title string) (Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Conversation{}, errors.New("title is required")
	}
	return s.mutate(ctx, id, func(c *Conversation) error {
		c.Title = title
		return nil
	})
}

// AppendMessage adds a complete message.
func (s *Service) AppendMessage(ctx context.Context, id string, msg models.Message) (Conversation, error) {
	return s.mutate(ctx, id, func(c *Conversation) error {
		appendMessage(c, msg)
		return nil
	})
}

// AppendChunk extends the trailing model message, starting one if needed.
func (s *Service) AppendChunk(ctx context.Context, id, text string) (Conversation, error) {
	return s.mutate(ctx, id, func(c *Conversation) error {
		appendChunk(c, text)
		return nil
	})
}

// SetSources attaches grounding sources to the trailing model message.
func (s *Service) SetSources(ctx context.Context, id string, sources []models.GroundingChunk) (Conversation, error) {
	return s.mutate(ctx, id, func(c *Conversation) error {
		setSources(c, sources)
		return nil
	})
}

func appendMessage(c *Conversation, msg models.Message) {
	c.Messages = append(c.Messages, msg)
	if msg.Role == models.RoleUser && c.Title == DefaultTitle {
		if t := titleFrom(msg); t != "" {
			c.Title = t
		}
	}
}

func appendChunk(c *Conversation, text string) {
	n := len(c.Messages)
	if n == 0 || c.Messages[n-1].Role != models.RoleModel {
		c.Messages = append(c.Messages, models.Message{Role: models.RoleModel})
		n++
	}
	c.Messages[n-1].Content += text
}

func setSources(c *Conversation, sources []models.GroundingChunk) {
	n := len(c.Messages)
	if n == 0 || c.Messages[n-1].Role != models.RoleModel {
		c.Messages = append(c.Messages, models.Message{Role: models.RoleModel})
		n++
	}
	c.Messages[n-1].Sources = sources
}

func titleFrom(msg models.Message) string {
	text := strings.Join(strings.Fields(msg.Content), " ")
	if text == "" && msg.File != nil {
		text = msg.File.Name
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
}

// Delete forgets the conversation and removes its saved copy.
func (s *Service) Delete(ctx context.Context, id string) error {
	scope, err := clientscope.Require(ctx)
	if err != nil {
		return err
	}
	l, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.dirty = false
	realID := l.conv.ID
	persisted := l.persisted
	delete(s.live, realID)
	for tmp, target := range s.aliases {
		if target == realID {
			delete(s.aliases, tmp)
		}
	}
	s.mu.Unlock()

	if persisted && s.canPersist(scope) {
		return s.repo.Delete(ctx, scope.UserID, realID)
	}
	return nil
}

// scheduleLocked (re)arms the debounced save. Callers hold s.mu.
func (s *Service) scheduleLocked(l *live) {
	if s.repo == nil || l.conv.UserID == "" {
		return
	}
	l.dirty = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = s.afterFunc(s.debounce, func() { s.save(l) })
}

// save writes l to the database. The first save inserts the row and swaps the
// temporary id for the server id; the temporary id keeps resolving.
func (s *Service) save(l *live) {
	s.saves.Add(1)
	defer s.saves.Done()

	s.mu.Lock()
	l.timer = nil
	if !l.dirty || l.saving {
		// A running save reschedules when it finds the entry dirty again.
		s.mu.Unlock()
		return
	}
	l.dirty = false
	l.saving = true
	snapshot := cloneConversation(l.conv)
	persisted := l.persisted
	s.mu.Unlock()

	ctx := context.Background()
	m := &models.ConversationModel{UserID: snapshot.UserID, Title: snapshot.Title, Messages: snapshot.Messages}
	var err error
	if persisted {
		m.ID = snapshot.ID
		err = s.repo.Update(ctx, m)
		if errors.Is(err, ErrNotFound) {
			err = s.repo.Insert(ctx, m)
		}
	} else {
		err = s.repo.Insert(ctx, m)
	}

	s.mu.Lock()
	l.saving = false
	if err != nil {
		l.failures++
		delay := saveRetryDelay(s.debounce, l.failures)
		s.log.Warn("save conversation failed",
			zap.String("id", snapshot.ID),
			zap.Int("attempt", l.failures),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if current, ok := s.live[s.resolveLocked(snapshot.ID)]; ok && current == l {
			l.dirty = true
			if l.timer == nil {
				l.timer = s.afterFunc(delay, func() { s.save(l) })
			}
		}
		s.mu.Unlock()
		return
	}
	l.failures = 0
	if current, ok := s.live[s.resolveLocked(snapshot.ID)]; !ok || current != l {
		s.mu.Unlock()
		// Deleted while saving.
		if err := s.repo.Delete(ctx, snapshot.UserID, m.ID); err != nil {
			s.log.Warn("remove deleted conversation failed", zap.String("id", m.ID), zap.Error(err))
		}
		return
	}
	if !persisted {
		tempID := l.conv.ID
		l.conv.ID = m.ID
		created, updated := m.CreatedAt, m.UpdatedAt
		l.conv.CreatedAt, l.conv.UpdatedAt = &created, &updated
		l.persisted = true
		delete(s.live, tempID)
		s.live[m.ID] = l
		s.aliases[tempID] = m.ID
		s.log.Debug("conversation saved", zap.String("temp_id", tempID), zap.String("id", m.ID))
	}
	if l.dirty && l.timer == nil {
		l.timer = s.afterFunc(s.debounce, func() { s.save(l) })
	}
	s.mu.Unlock()
}

// saveRetryDelay doubles the debounce for each consecutive failure, capped
// at maxSaveBackoff.
func saveRetryDelay(base time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures && d < maxSaveBackoff; i++ {
		d *= 2
	}
	return min(d, maxSaveBackoff)
}

// Flush saves every pending conversation immediately.
func (s *Service) Flush() {
	s.mu.Lock()
	var pending []*live
	for _, l := range s.live {
		if l.dirty {
			if l.timer != nil {
				l.timer.Stop()
				l.timer = nil
			}
			pending = append(pending, l)
		}
	}
	s.mu.Unlock()
	for _, l := range pending {
		s.save(l)
	}
	s.saves.Wait()
}
