package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"teamchat/internal/apperror"
	"teamchat/internal/db"
	"teamchat/internal/event"
	"teamchat/internal/lookup"
	"teamchat/internal/model"
)

// In-memory stand-ins for the mongo-backed repositories. They reproduce the
// store-level behavior the services rely on: the one-default-per-task
// constraint, the guarded decrement floor, and unique participant records.

type fakeConversationRepo struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation

	// beforeInsert, when set, runs before the uniqueness checks so a test
	// can slip a rival document in, the way a concurrent writer would.
	beforeInsert func()
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{convs: make(map[string]*model.Conversation)}
}

func (f *fakeConversationRepo) EnsureIndexes(context.Context) error { return nil }

func (f *fakeConversationRepo) Insert(_ context.Context, conv *model.Conversation) error {
	if f.beforeInsert != nil {
		hook := f.beforeInsert
		f.beforeInsert = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if conv.IsTaskDefault {
		for _, c := range f.convs {
			if c.IsTaskDefault && c.TaskID == conv.TaskID {
				return fmt.Errorf("%w: task %s already has a default conversation", apperror.ErrConflict, conv.TaskID)
			}
		}
	}
	if conv.PairKey != "" {
		for _, c := range f.convs {
			if c.PairKey == conv.PairKey {
				return fmt.Errorf("%w: pair conversation already exists", apperror.ErrConflict)
			}
		}
	}
	cp := *conv
	f.convs[conv.ConversationID] = &cp
	return nil
}

func (f *fakeConversationRepo) FindByPairKey(_ context.Context, pairKey string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.PairKey == pairKey {
			cp := *c
			cp.UnreadCount = copyCounters(c.UnreadCount)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no conversation for pair", apperror.ErrNotFound)
}

func (f *fakeConversationRepo) FindByConversationID(_ context.Context, conversationID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", apperror.ErrNotFound, conversationID)
	}
	cp := *c
	cp.UnreadCount = copyCounters(c.UnreadCount)
	return &cp, nil
}

func (f *fakeConversationRepo) FindDefaultForTask(_ context.Context, taskID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.IsTaskDefault && c.TaskID == taskID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no default conversation for task %s", apperror.ErrNotFound, taskID)
}

func (f *fakeConversationRepo) FindForTask(_ context.Context, taskID string) ([]model.Conversation, error) {
	return f.filter(func(c *model.Conversation) bool {
		return c.Type == model.ConversationTypeTask && c.TaskID == taskID
	}), nil
}

func (f *fakeConversationRepo) FindForTaskIn(_ context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error) {
	in := toSet(conversationIDs)
	return f.filter(func(c *model.Conversation) bool {
		return c.Type == model.ConversationTypeTask && c.TaskID == taskID && in[c.ConversationID]
	}), nil
}

func (f *fakeConversationRepo) FindSecondaryForTaskIn(_ context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error) {
	in := toSet(conversationIDs)
	return f.filter(func(c *model.Conversation) bool {
		return c.Type == model.ConversationTypeTask && c.TaskID == taskID && !c.IsTaskDefault && in[c.ConversationID]
	}), nil
}

func (f *fakeConversationRepo) FindIn(_ context.Context, conversationIDs []string) ([]model.Conversation, error) {
	in := toSet(conversationIDs)
	return f.filter(func(c *model.Conversation) bool { return in[c.ConversationID] }), nil
}

func (f *fakeConversationRepo) FindPrivateIn(_ context.Context, conversationIDs []string) ([]model.Conversation, error) {
	in := toSet(conversationIDs)
	return f.filter(func(c *model.Conversation) bool {
		return c.Type == model.ConversationTypePrivate && in[c.ConversationID]
	}), nil
}

func (f *fakeConversationRepo) Page(_ context.Context, conversationIDs []string, convType string, page, limit int64) (*db.PaginatedResult[model.Conversation], error) {
	in := toSet(conversationIDs)
	all := f.filter(func(c *model.Conversation) bool {
		if !in[c.ConversationID] {
			return false
		}
		return convType == "" || c.Type == convType
	})

	total := int64(len(all))
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return &db.PaginatedResult[model.Conversation]{
		Data:       all[start:end],
		Total:      total,
		Page:       page,
		PageSize:   limit,
		TotalPages: totalPages,
	}, nil
}

func (f *fakeConversationRepo) SetName(_ context.Context, conversationID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok {
		c.Name = name
	}
	return nil
}

func (f *fakeConversationRepo) TouchLastMessage(_ context.Context, conversationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok && at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	return nil
}

func (f *fakeConversationRepo) InitUnread(_ context.Context, conversationID string, employeeIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok {
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int64)
		}
		for _, id := range employeeIDs {
			if _, exists := c.UnreadCount[id]; !exists {
				c.UnreadCount[id] = 0
			}
		}
	}
	return nil
}

func (f *fakeConversationRepo) IncrementUnread(_ context.Context, conversationID string, employeeIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok {
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int64)
		}
		for _, id := range employeeIDs {
			c.UnreadCount[id]++
		}
	}
	return nil
}

func (f *fakeConversationRepo) DecrementUnread(_ context.Context, conversationID, employeeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok && c.UnreadCount[employeeID] > 0 {
		c.UnreadCount[employeeID]--
	}
	return nil
}

func (f *fakeConversationRepo) ResetUnread(_ context.Context, conversationID, employeeID string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok {
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int64)
		}
		c.UnreadCount[employeeID] = value
	}
	return nil
}

func (f *fakeConversationRepo) RemoveUnreadKey(_ context.Context, conversationID, employeeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[conversationID]; ok {
		delete(c.UnreadCount, employeeID)
	}
	return nil
}

func (f *fakeConversationRepo) Delete(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[conversationID]; !ok {
		return fmt.Errorf("%w: conversation %s", apperror.ErrNotFound, conversationID)
	}
	delete(f.convs, conversationID)
	return nil
}

func (f *fakeConversationRepo) filter(keep func(*model.Conversation) bool) []model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Conversation, 0)
	for _, c := range f.convs {
		if keep(c) {
			cp := *c
			cp.UnreadCount = copyCounters(c.UnreadCount)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsTaskDefault != out[j].IsTaskDefault {
			return out[i].IsTaskDefault
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

type fakeParticipantRepo struct {
	mu      sync.Mutex
	records map[string]*model.Participant // key conversationID|employeeID

	// failInsertFor makes inserts for one employee fail, to exercise the
	// create-path rollback.
	failInsertFor string
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{records: make(map[string]*model.Participant)}
}

func pkey(conversationID, employeeID string) string {
	return conversationID + "|" + employeeID
}

func (f *fakeParticipantRepo) EnsureIndexes(context.Context) error { return nil }

func (f *fakeParticipantRepo) Insert(_ context.Context, p *model.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertFor != "" && p.EmployeeID == f.failInsertFor {
		return fmt.Errorf("%w: insert participant: connection reset", apperror.ErrInternal)
	}
	key := pkey(p.ConversationID, p.EmployeeID)
	if _, ok := f.records[key]; ok {
		return fmt.Errorf("%w: already a participant", apperror.ErrConflict)
	}
	cp := *p
	f.records[key] = &cp
	return nil
}

func (f *fakeParticipantRepo) Find(_ context.Context, conversationID, employeeID string) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[pkey(conversationID, employeeID)]
	if !ok {
		return nil, fmt.Errorf("%w: participant", apperror.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeParticipantRepo) Exists(_ context.Context, conversationID, employeeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[pkey(conversationID, employeeID)]
	return ok, nil
}

func (f *fakeParticipantRepo) FindByConversation(_ context.Context, conversationID string) ([]model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Participant, 0)
	for _, p := range f.records {
		if p.ConversationID == conversationID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (f *fakeParticipantRepo) ConversationIDsFor(_ context.Context, employeeID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0)
	for _, p := range f.records {
		if p.EmployeeID == employeeID {
			out = append(out, p.ConversationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeParticipantRepo) CountByConversation(_ context.Context, conversationID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.records {
		if p.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (f *fakeParticipantRepo) TouchLastSeen(_ context.Context, conversationID, employeeID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.records[pkey(conversationID, employeeID)]; ok {
		p.LastSeen = at
	}
	return nil
}

func (f *fakeParticipantRepo) Delete(_ context.Context, conversationID, employeeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pkey(conversationID, employeeID)
	if _, ok := f.records[key]; !ok {
		return fmt.Errorf("%w: participant", apperror.ErrNotFound)
	}
	delete(f.records, key)
	return nil
}

func (f *fakeParticipantRepo) DeleteByConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, p := range f.records {
		if p.ConversationID == conversationID {
			delete(f.records, key)
		}
	}
	return nil
}

type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs []*model.Message

	insertErr   error
	insertCalls int

	// afterFind runs once after FindByID snapshots its result, to let a
	// test mutate the store behind a caller's back like a concurrent
	// writer would.
	afterFind func()
}

func newFakeMessageRepo() *fakeMessageRepo { return &fakeMessageRepo{} }

func (f *fakeMessageRepo) EnsureIndexes(context.Context) error { return nil }

func (f *fakeMessageRepo) Insert(_ context.Context, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return "", f.insertErr
	}
	msg.ID = primitive.NewObjectID()
	cp := *msg
	f.msgs = append(f.msgs, &cp)
	return msg.ID.Hex(), nil
}

func (f *fakeMessageRepo) FindByID(_ context.Context, messageID string) (*model.Message, error) {
	f.mu.Lock()
	var found *model.Message
	for _, m := range f.msgs {
		if m.ID.Hex() == messageID {
			cp := *m
			cp.SeenBy = append([]model.SeenRecord(nil), m.SeenBy...)
			found = &cp
			break
		}
	}
	f.mu.Unlock()

	if found == nil {
		return nil, fmt.Errorf("%w: message %s", apperror.ErrNotFound, messageID)
	}
	if f.afterFind != nil {
		hook := f.afterFind
		f.afterFind = nil
		hook()
	}
	return found, nil
}

func (f *fakeMessageRepo) Page(_ context.Context, conversationID string, page, limit int64) (*db.PaginatedResult[model.Message], error) {
	visible := f.visible(conversationID)
	total := int64(len(visible))
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return &db.PaginatedResult[model.Message]{
		Data:       visible[start:end],
		Total:      total,
		Page:       page,
		PageSize:   limit,
		TotalPages: totalPages,
	}, nil
}

func (f *fakeMessageRepo) Search(_ context.Context, conversationID, query string, page, limit int64) (*db.PaginatedResult[model.Message], error) {
	visible := f.visible(conversationID)
	matched := make([]model.Message, 0)
	for _, m := range visible {
		if strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			matched = append(matched, m)
		}
	}
	return &db.PaginatedResult[model.Message]{
		Data:       matched,
		Total:      int64(len(matched)),
		Page:       page,
		PageSize:   limit,
		TotalPages: 1,
	}, nil
}

func (f *fakeMessageRepo) LatestVisible(_ context.Context, conversationID string) (*model.Message, error) {
	visible := f.visible(conversationID)
	if len(visible) == 0 {
		return nil, nil
	}
	return &visible[0], nil
}

func (f *fakeMessageRepo) AppendSeen(_ context.Context, messageID string, rec model.SeenRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID.Hex() == messageID && !m.SeenByEmployee(rec.EmployeeID) {
			m.SeenBy = append(m.SeenBy, rec)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeMessageRepo) SetStatus(_ context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID.Hex() == messageID {
			m.Status = status
		}
	}
	return nil
}

func (f *fakeMessageRepo) MarkAllSeen(_ context.Context, conversationID, employeeID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.msgs {
		if m.ConversationID != conversationID || m.IsDeleted || m.SenderID == employeeID {
			continue
		}
		if m.SeenByEmployee(employeeID) {
			continue
		}
		m.SeenBy = append(m.SeenBy, model.SeenRecord{EmployeeID: employeeID, SeenAt: at})
		count++
	}
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && m.ReceiverID == employeeID && m.Status != model.MessageStatusSeen {
			m.Status = model.MessageStatusSeen
		}
	}
	return count, nil
}

func (f *fakeMessageRepo) CountUnseen(_ context.Context, conversationID, employeeID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && !m.IsDeleted && m.SenderID != employeeID && !m.SeenByEmployee(employeeID) {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessageRepo) SoftDelete(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID.Hex() == messageID {
			m.IsDeleted = true
		}
	}
	return nil
}

func (f *fakeMessageRepo) SoftDeleteByConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			m.IsDeleted = true
		}
	}
	return nil
}

// visible returns non-deleted messages newest-first, matching the store sort.
func (f *fakeMessageRepo) visible(conversationID string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0)
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && !m.IsDeleted {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

type fakeTaskDirectory struct {
	tasks map[string]*model.TaskInfo
}

func (f *fakeTaskDirectory) TaskByID(_ context.Context, taskID string) (*model.TaskInfo, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", apperror.ErrNotFound, taskID)
	}
	return t, nil
}

type fakeEmployeeDirectory struct {
	employees map[string]model.EmployeeSummary
}

func (f *fakeEmployeeDirectory) Summaries(_ context.Context, employeeIDs []string) (map[string]model.EmployeeSummary, error) {
	out := make(map[string]model.EmployeeSummary, len(employeeIDs))
	for _, id := range employeeIDs {
		if s, ok := f.employees[id]; ok {
			out[id] = s
		} else {
			out[id] = model.UnknownEmployee(id)
		}
	}
	return out, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []lookup.NotificationRecord
}

func (r *recordingSink) Publish(_ context.Context, rec lookup.NotificationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Kind)
	}
	return out
}

type recordedNotification struct {
	employeeIDs []string
	event       event.WsEvent
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []recordedNotification
}

func (r *recordingNotifier) NotifyActors(employeeIDs []string, ev event.WsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, recordedNotification{employeeIDs: employeeIDs, event: ev})
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func copyCounters(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
