package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/event"
	"teamchat/internal/lookup"
	"teamchat/internal/model"
	"teamchat/internal/repo"
)

// CreateTaskConversationInput describes a secondary conversation scoped to a
// task. Kind selects the validation rules (group needs a name, private
// dedupes by pair); the stored conversation type is always "task".
type CreateTaskConversationInput struct {
	TaskID       string   `json:"task_id"`
	Name         string   `json:"name"`
	Kind         string   `json:"type"`
	Participants []string `json:"participants"`
}

// CreateConversationInput describes a task-independent conversation.
type CreateConversationInput struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

// ConversationService owns conversation lifecycle and roster rules.
type ConversationService interface {
	CreateDefaultTaskConversation(ctx context.Context, taskID, createdBy string, assignedTo []string) (*model.Conversation, error)
	AddParticipantsToDefaultTaskConversation(ctx context.Context, taskID string, employeeIDs []string) (*AddResult, error)
	CreateTaskConversation(ctx context.Context, actor model.Actor, in CreateTaskConversationInput) (*model.ConversationDetail, error)
	CreateConversation(ctx context.Context, actor model.Actor, in CreateConversationInput) (*model.ConversationDetail, error)
	GetTaskConversations(ctx context.Context, taskID string, actor model.Actor) ([]model.ConversationDetail, error)
	JoinTaskConversation(ctx context.Context, conversationID string, actor model.Actor) error
	GetConversations(ctx context.Context, employeeID string, opts ListOptions) (*model.ConversationPage, error)
	GetConversationDetails(ctx context.Context, conversationID, employeeID string) (*model.ConversationDetail, error)
	UpdateConversation(ctx context.Context, conversationID, employeeID, name string) (*model.ConversationDetail, error)
	AddParticipants(ctx context.Context, conversationID, employeeID string, newParticipants []string) (*AddResult, error)
	RemoveParticipant(ctx context.Context, conversationID, employeeID, participantToRemove string) error
	LeaveConversation(ctx context.Context, conversationID, employeeID string) error
	DeleteConversation(ctx context.Context, conversationID, employeeID string) error
	GetTotalUnreadCount(ctx context.Context, employeeID string) (int64, error)
}

type conversationService struct {
	conversations repo.ConversationRepository
	participants  repo.ParticipantRepository
	messages      repo.MessageRepository
	tasks         lookup.TaskDirectory
	employees     lookup.EmployeeDirectory
	sink          lookup.NotificationSink
	notifier      RealtimeNotifier
	logger        *zap.Logger
}

func NewConversationService(
	conversations repo.ConversationRepository,
	participants repo.ParticipantRepository,
	messages repo.MessageRepository,
	tasks lookup.TaskDirectory,
	employees lookup.EmployeeDirectory,
	sink lookup.NotificationSink,
	notifier RealtimeNotifier,
	logger *zap.Logger,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		tasks:         tasks,
		employees:     employees,
		sink:          sink,
		notifier:      notifier,
		logger:        logger,
	}
}

// CreateDefaultTaskConversation is called once per task at task creation.
// The partial unique index on task_id makes a second call fail with
// Conflict.
func (s *conversationService) CreateDefaultTaskConversation(ctx context.Context, taskID, createdBy string, assignedTo []string) (*model.Conversation, error) {
	if taskID == "" || createdBy == "" {
		return nil, fmt.Errorf("%w: task id and creator are required", apperror.ErrInvalidArgument)
	}

	roster := lo.Uniq(append([]string{createdBy}, assignedTo...))

	now := time.Now()
	conv := &model.Conversation{
		ConversationID: uuid.NewString(),
		Name:           model.DefaultTaskConversationName,
		Type:           model.ConversationTypeTask,
		TaskID:         taskID,
		CreatedBy:      createdBy,
		IsTaskDefault:  true,
		LastMessageAt:  now,
		UnreadCount:    zeroCounters(roster),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.conversations.Insert(ctx, conv); err != nil {
		return nil, err
	}

	if err := s.insertRoster(ctx, conv.ConversationID, createdBy, roster, now); err != nil {
		s.rollbackConversation(ctx, conv.ConversationID)
		return nil, err
	}

	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "conversation.default_created",
		ConversationID: conv.ConversationID,
		TaskID:         taskID,
		ActorID:        createdBy,
		EmployeeIDs:    roster,
	})

	return conv, nil
}

// AddParticipantsToDefaultTaskConversation extends the default roster when a
// task gains assignees. Ids already present are skipped.
func (s *conversationService) AddParticipantsToDefaultTaskConversation(ctx context.Context, taskID string, employeeIDs []string) (*AddResult, error) {
	conv, err := s.conversations.FindDefaultForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	added, err := s.addMissingParticipants(ctx, conv.ConversationID, employeeIDs)
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		s.notifyActors(added, event.EventParticipantsAdded, event.ConversationEvent{
			ConversationID: conv.ConversationID,
			TaskID:         taskID,
			EmployeeIDs:    added,
		})
		s.sink.Publish(ctx, lookup.NotificationRecord{
			Kind:           "conversation.participants_added",
			ConversationID: conv.ConversationID,
			TaskID:         taskID,
			EmployeeIDs:    added,
		})
	}

	return &AddResult{AddedParticipants: added, Count: len(added)}, nil
}

// CreateTaskConversation creates a secondary group or private conversation
// inside a task. Private pairs are idempotent: a second request between the
// same two actors returns the existing conversation.
func (s *conversationService) CreateTaskConversation(ctx context.Context, actor model.Actor, in CreateTaskConversationInput) (*model.ConversationDetail, error) {
	task, err := s.tasks.TaskByID(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	if !task.IsAssigned(actor.EmployeeID) && !actor.IsAdminOrManager() {
		return nil, fmt.Errorf("%w: not assigned to task %s", apperror.ErrForbidden, in.TaskID)
	}

	if len(in.Participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", apperror.ErrInvalidArgument)
	}

	if !actor.IsAdminOrManager() {
		outsiders := lo.Filter(in.Participants, func(id string, _ int) bool {
			return !task.IsAssigned(id) && id != actor.EmployeeID
		})
		if len(outsiders) > 0 {
			return nil, fmt.Errorf("%w: participants must be assigned to the task", apperror.ErrForbidden)
		}
	}

	kind := in.Kind
	if kind == "" {
		kind = model.ConversationTypeGroup
	}

	pairKey := ""
	if kind == model.ConversationTypePrivate && len(in.Participants) == 1 {
		pairKey = model.PrivatePairKey(in.TaskID, actor.EmployeeID, in.Participants[0])
		existing, err := s.findPrivateTaskConversation(ctx, in.TaskID, actor.EmployeeID, in.Participants[0])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	name := ""
	if kind == model.ConversationTypeGroup {
		if in.Name == "" {
			return nil, fmt.Errorf("%w: group conversation requires a name", apperror.ErrInvalidArgument)
		}
		name = in.Name
	}

	roster := lo.Uniq(append([]string{actor.EmployeeID}, in.Participants...))

	now := time.Now()
	conv := &model.Conversation{
		ConversationID: uuid.NewString(),
		Name:           name,
		Type:           model.ConversationTypeTask,
		TaskID:         in.TaskID,
		PairKey:        pairKey,
		CreatedBy:      actor.EmployeeID,
		IsTaskDefault:  false,
		LastMessageAt:  now,
		UnreadCount:    zeroCounters(roster),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.conversations.Insert(ctx, conv); err != nil {
		if pairKey != "" && errors.Is(err, apperror.ErrConflict) {
			return s.existingPair(ctx, pairKey, actor.EmployeeID)
		}
		return nil, err
	}
	if err := s.insertRoster(ctx, conv.ConversationID, actor.EmployeeID, roster, now); err != nil {
		s.rollbackConversation(ctx, conv.ConversationID)
		return nil, err
	}

	s.notifyActors(
		lo.Without(roster, actor.EmployeeID),
		event.EventConversationCreate,
		event.ConversationEvent{
			ConversationID: conv.ConversationID,
			TaskID:         in.TaskID,
			ByEmployeeID:   actor.EmployeeID,
		},
	)
	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "conversation.created",
		ConversationID: conv.ConversationID,
		TaskID:         in.TaskID,
		ActorID:        actor.EmployeeID,
		EmployeeIDs:    roster,
	})

	return s.GetConversationDetails(ctx, conv.ConversationID, actor.EmployeeID)
}

// CreateConversation creates a task-independent private or group
// conversation, with the same private-pair dedup policy.
func (s *conversationService) CreateConversation(ctx context.Context, actor model.Actor, in CreateConversationInput) (*model.ConversationDetail, error) {
	if len(in.Participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", apperror.ErrInvalidArgument)
	}

	convType := in.Type
	if convType == "" {
		convType = model.ConversationTypePrivate
	}

	pairKey := ""
	if convType == model.ConversationTypePrivate {
		if len(in.Participants) > 1 {
			return nil, fmt.Errorf("%w: private conversation takes exactly one recipient", apperror.ErrInvalidArgument)
		}
		pairKey = model.PrivatePairKey("", actor.EmployeeID, in.Participants[0])
		existing, err := s.findPrivateConversation(ctx, actor.EmployeeID, in.Participants[0])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	name := ""
	if convType == model.ConversationTypeGroup {
		if in.Name == "" {
			return nil, fmt.Errorf("%w: group conversation requires a name", apperror.ErrInvalidArgument)
		}
		name = in.Name
	}

	roster := lo.Uniq(append([]string{actor.EmployeeID}, in.Participants...))

	now := time.Now()
	conv := &model.Conversation{
		ConversationID: uuid.NewString(),
		Name:           name,
		Type:           convType,
		PairKey:        pairKey,
		CreatedBy:      actor.EmployeeID,
		LastMessageAt:  now,
		UnreadCount:    zeroCounters(roster),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.conversations.Insert(ctx, conv); err != nil {
		if pairKey != "" && errors.Is(err, apperror.ErrConflict) {
			return s.existingPair(ctx, pairKey, actor.EmployeeID)
		}
		return nil, err
	}
	if err := s.insertRoster(ctx, conv.ConversationID, actor.EmployeeID, roster, now); err != nil {
		s.rollbackConversation(ctx, conv.ConversationID)
		return nil, err
	}

	s.notifyActors(
		lo.Without(roster, actor.EmployeeID),
		event.EventConversationCreate,
		event.ConversationEvent{
			ConversationID: conv.ConversationID,
			ByEmployeeID:   actor.EmployeeID,
		},
	)
	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "conversation.created",
		ConversationID: conv.ConversationID,
		ActorID:        actor.EmployeeID,
		EmployeeIDs:    roster,
	})

	return s.GetConversationDetails(ctx, conv.ConversationID, actor.EmployeeID)
}

// GetTaskConversations lists a task's conversations: all of them for
// admin/manager, otherwise only the ones the caller is in. Default
// conversation sorts first, the rest by recent activity.
func (s *conversationService) GetTaskConversations(ctx context.Context, taskID string, actor model.Actor) ([]model.ConversationDetail, error) {
	task, err := s.tasks.TaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsAssigned(actor.EmployeeID) && !actor.IsAdminOrManager() {
		return nil, fmt.Errorf("%w: no access to task %s conversations", apperror.ErrForbidden, taskID)
	}

	var convs []model.Conversation
	if actor.IsAdminOrManager() {
		convs, err = s.conversations.FindForTask(ctx, taskID)
	} else {
		var memberOf []string
		memberOf, err = s.participants.ConversationIDsFor(ctx, actor.EmployeeID)
		if err != nil {
			return nil, err
		}
		convs, err = s.conversations.FindForTaskIn(ctx, taskID, memberOf)
	}
	if err != nil {
		return nil, err
	}

	return s.enrichAll(ctx, convs, actor.EmployeeID)
}

// JoinTaskConversation lets admin/manager add themselves to any task
// conversation. The joiner gets the owner role (oversight privilege).
func (s *conversationService) JoinTaskConversation(ctx context.Context, conversationID string, actor model.Actor) error {
	if !actor.IsAdminOrManager() {
		return fmt.Errorf("%w: only admin or manager may join", apperror.ErrForbidden)
	}

	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type != model.ConversationTypeTask {
		return fmt.Errorf("%w: conversation %s is not a task conversation", apperror.ErrNotFound, conversationID)
	}

	exists, err := s.participants.Exists(ctx, conversationID, actor.EmployeeID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: already a participant", apperror.ErrConflict)
	}

	now := time.Now()
	if err := s.participants.Insert(ctx, &model.Participant{
		ConversationID: conversationID,
		EmployeeID:     actor.EmployeeID,
		Role:           model.ConversationRoleOwner,
		JoinedAt:       now,
		LastSeen:       now,
	}); err != nil {
		return err
	}

	return s.conversations.InitUnread(ctx, conversationID, []string{actor.EmployeeID})
}

// GetConversations pages through the actor's conversations, most recently
// active first.
func (s *conversationService) GetConversations(ctx context.Context, employeeID string, opts ListOptions) (*model.ConversationPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}

	memberOf, err := s.participants.ConversationIDsFor(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	page, err := s.conversations.Page(ctx, memberOf, opts.Type, opts.Page, opts.Limit)
	if err != nil {
		return nil, err
	}

	details, err := s.enrichAll(ctx, page.Data, employeeID)
	if err != nil {
		return nil, err
	}

	return &model.ConversationPage{
		Conversations: details,
		Pagination: model.Pagination{
			Page:       page.Page,
			Limit:      page.PageSize,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
	}, nil
}

// GetConversationDetails returns an enriched conversation and advances the
// caller's last_seen.
func (s *conversationService) GetConversationDetails(ctx context.Context, conversationID, employeeID string) (*model.ConversationDetail, error) {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.requireParticipant(ctx, conversationID, employeeID); err != nil {
		return nil, err
	}

	detail, err := s.enrich(ctx, *conv, employeeID, nil)
	if err != nil {
		return nil, err
	}

	if err := s.participants.TouchLastSeen(ctx, conversationID, employeeID, time.Now()); err != nil {
		s.logger.Warn("failed to advance last_seen",
			zap.String("conversation_id", conversationID),
			zap.String("employee_id", employeeID),
			zap.Error(err),
		)
	}

	return detail, nil
}

// UpdateConversation renames a group or task conversation. Only the owner
// role or the creator may rename; private conversations have no name.
func (s *conversationService) UpdateConversation(ctx context.Context, conversationID, employeeID, name string) (*model.ConversationDetail, error) {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.Type != model.ConversationTypeGroup && conv.Type != model.ConversationTypeTask {
		return nil, fmt.Errorf("%w: only group or task conversations can be updated", apperror.ErrInvalidArgument)
	}

	participant, err := s.participants.Find(ctx, conversationID, employeeID)
	if err != nil {
		return nil, fmt.Errorf("%w: not a participant", apperror.ErrForbidden)
	}
	if participant.Role != model.ConversationRoleOwner && conv.CreatedBy != employeeID {
		return nil, fmt.Errorf("%w: only the owner or creator may update", apperror.ErrForbidden)
	}

	if name != "" {
		if err := s.conversations.SetName(ctx, conversationID, name); err != nil {
			return nil, err
		}
	}

	return s.GetConversationDetails(ctx, conversationID, employeeID)
}

// AddParticipants adds employees to a group or task conversation. The caller
// must already be a participant; already-present ids are skipped.
func (s *conversationService) AddParticipants(ctx context.Context, conversationID, employeeID string, newParticipants []string) (*AddResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.Type != model.ConversationTypeGroup && conv.Type != model.ConversationTypeTask {
		return nil, fmt.Errorf("%w: participants can only be added to group or task conversations", apperror.ErrInvalidArgument)
	}

	if err := s.requireParticipant(ctx, conversationID, employeeID); err != nil {
		return nil, err
	}

	added, err := s.addMissingParticipants(ctx, conversationID, newParticipants)
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		s.notifyActors(added, event.EventParticipantsAdded, event.ConversationEvent{
			ConversationID: conversationID,
			EmployeeIDs:    added,
			ByEmployeeID:   employeeID,
		})
		s.sink.Publish(ctx, lookup.NotificationRecord{
			Kind:           "conversation.participants_added",
			ConversationID: conversationID,
			ActorID:        employeeID,
			EmployeeIDs:    added,
		})
	}

	return &AddResult{AddedParticipants: added, Count: len(added)}, nil
}

// RemoveParticipant removes an employee from a group or task conversation.
// Owners and the creator can remove anyone but the creator; everyone can
// remove themselves. The creator can never be removed.
func (s *conversationService) RemoveParticipant(ctx context.Context, conversationID, employeeID, participantToRemove string) error {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}

	if conv.Type != model.ConversationTypeGroup && conv.Type != model.ConversationTypeTask {
		return fmt.Errorf("%w: participants can only be removed from group or task conversations", apperror.ErrInvalidArgument)
	}

	requester, err := s.participants.Find(ctx, conversationID, employeeID)
	if err != nil {
		return fmt.Errorf("%w: not a participant", apperror.ErrForbidden)
	}

	isOwner := requester.Role == model.ConversationRoleOwner || conv.CreatedBy == employeeID
	isSelfRemoval := employeeID == participantToRemove
	if !isOwner && !isSelfRemoval {
		return fmt.Errorf("%w: cannot remove this participant", apperror.ErrForbidden)
	}

	if participantToRemove == conv.CreatedBy {
		return fmt.Errorf("%w: the creator cannot be removed", apperror.ErrForbidden)
	}

	if err := s.participants.Delete(ctx, conversationID, participantToRemove); err != nil {
		return err
	}
	if err := s.conversations.RemoveUnreadKey(ctx, conversationID, participantToRemove); err != nil {
		return err
	}

	s.notifyActors([]string{participantToRemove}, event.EventParticipantRemoved, event.ConversationEvent{
		ConversationID: conversationID,
		EmployeeIDs:    []string{participantToRemove},
		ByEmployeeID:   employeeID,
	})
	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "conversation.participant_removed",
		ConversationID: conversationID,
		ActorID:        employeeID,
		EmployeeIDs:    []string{participantToRemove},
	})

	return nil
}

func (s *conversationService) LeaveConversation(ctx context.Context, conversationID, employeeID string) error {
	return s.RemoveParticipant(ctx, conversationID, employeeID, employeeID)
}

// DeleteConversation is creator-only and cascades: participant records go,
// messages are soft-deleted, then the conversation record itself goes.
func (s *conversationService) DeleteConversation(ctx context.Context, conversationID, employeeID string) error {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return err
	}

	if conv.CreatedBy != employeeID {
		return fmt.Errorf("%w: only the creator may delete the conversation", apperror.ErrForbidden)
	}

	if err := s.participants.DeleteByConversation(ctx, conversationID); err != nil {
		return err
	}
	if err := s.messages.SoftDeleteByConversation(ctx, conversationID); err != nil {
		return err
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return err
	}

	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "conversation.deleted",
		ConversationID: conversationID,
		ActorID:        employeeID,
	})

	return nil
}

// GetTotalUnreadCount sums the actor's unread counter across every
// conversation they participate in.
func (s *conversationService) GetTotalUnreadCount(ctx context.Context, employeeID string) (int64, error) {
	memberOf, err := s.participants.ConversationIDsFor(ctx, employeeID)
	if err != nil {
		return 0, err
	}
	if len(memberOf) == 0 {
		return 0, nil
	}

	convs, err := s.conversations.FindIn(ctx, memberOf)
	if err != nil {
		return 0, err
	}

	var total int64
	for i := range convs {
		total += convs[i].UnreadFor(employeeID)
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// findPrivateConversation intersects both actors' memberships and returns
// the first private conversation with exactly those two participants.
func (s *conversationService) findPrivateConversation(ctx context.Context, user1, user2 string) (*model.ConversationDetail, error) {
	ids1, err := s.participants.ConversationIDsFor(ctx, user1)
	if err != nil {
		return nil, err
	}
	ids2, err := s.participants.ConversationIDsFor(ctx, user2)
	if err != nil {
		return nil, err
	}

	common := lo.Intersect(ids1, ids2)
	if len(common) == 0 {
		return nil, nil
	}

	convs, err := s.conversations.FindPrivateIn(ctx, common)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		count, err := s.participants.CountByConversation(ctx, convs[i].ConversationID)
		if err != nil {
			return nil, err
		}
		if count == 2 {
			return s.GetConversationDetails(ctx, convs[i].ConversationID, user1)
		}
	}
	return nil, nil
}

// findPrivateTaskConversation is the task-scoped variant: secondary task
// conversations with exactly the two actors as roster.
func (s *conversationService) findPrivateTaskConversation(ctx context.Context, taskID, user1, user2 string) (*model.ConversationDetail, error) {
	ids1, err := s.participants.ConversationIDsFor(ctx, user1)
	if err != nil {
		return nil, err
	}
	if len(ids1) == 0 {
		return nil, nil
	}

	convs, err := s.conversations.FindSecondaryForTaskIn(ctx, taskID, ids1)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		roster, err := s.participants.FindByConversation(ctx, convs[i].ConversationID)
		if err != nil {
			return nil, err
		}
		if len(roster) != 2 {
			continue
		}
		ids := lo.Map(roster, func(p model.Participant, _ int) string { return p.EmployeeID })
		if lo.Contains(ids, user1) && lo.Contains(ids, user2) {
			return s.GetConversationDetails(ctx, convs[i].ConversationID, user1)
		}
	}
	return nil, nil
}

// existingPair resolves the conversation that won a concurrent private-pair
// create. The winner's roster may still be in flight, so the lookup goes by
// pair key rather than membership.
func (s *conversationService) existingPair(ctx context.Context, pairKey, viewerID string) (*model.ConversationDetail, error) {
	conv, err := s.conversations.FindByPairKey(ctx, pairKey)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, *conv, viewerID, nil)
}

// rollbackConversation undoes a create whose roster insert failed, so no
// unread-count keys survive without matching participant records.
func (s *conversationService) rollbackConversation(ctx context.Context, conversationID string) {
	if err := s.participants.DeleteByConversation(ctx, conversationID); err != nil {
		s.logger.Error("failed to remove partial roster",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		s.logger.Error("failed to roll back conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

func (s *conversationService) requireParticipant(ctx context.Context, conversationID, employeeID string) error {
	ok, err := s.participants.Exists(ctx, conversationID, employeeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no access to conversation %s", apperror.ErrForbidden, conversationID)
	}
	return nil
}

// insertRoster writes the participant records for a freshly created
// conversation; the creator gets the owner role.
func (s *conversationService) insertRoster(ctx context.Context, conversationID, createdBy string, roster []string, now time.Time) error {
	for _, id := range roster {
		role := model.ConversationRoleMember
		if id == createdBy {
			role = model.ConversationRoleOwner
		}
		if err := s.participants.Insert(ctx, &model.Participant{
			ConversationID: conversationID,
			EmployeeID:     id,
			Role:           role,
			JoinedAt:       now,
			LastSeen:       now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// addMissingParticipants inserts member records and counter keys for ids not
// already on the roster. Roster insert and counter-key creation always
// happen together.
func (s *conversationService) addMissingParticipants(ctx context.Context, conversationID string, employeeIDs []string) ([]string, error) {
	now := time.Now()
	added := make([]string, 0, len(employeeIDs))

	for _, id := range lo.Uniq(employeeIDs) {
		exists, err := s.participants.Exists(ctx, conversationID, id)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		if err := s.participants.Insert(ctx, &model.Participant{
			ConversationID: conversationID,
			EmployeeID:     id,
			Role:           model.ConversationRoleMember,
			JoinedAt:       now,
			LastSeen:       now,
		}); err != nil {
			return nil, err
		}
		added = append(added, id)
	}

	if err := s.conversations.InitUnread(ctx, conversationID, added); err != nil {
		return nil, err
	}
	return added, nil
}

// enrich joins a conversation with resolved participants, the last visible
// message and the viewer's unread count. summaries may be pre-fetched by
// enrichAll; pass nil to resolve here.
func (s *conversationService) enrich(ctx context.Context, conv model.Conversation, viewerID string, summaries map[string]model.EmployeeSummary) (*model.ConversationDetail, error) {
	roster, err := s.participants.FindByConversation(ctx, conv.ConversationID)
	if err != nil {
		return nil, err
	}

	if summaries == nil {
		ids := lo.Map(roster, func(p model.Participant, _ int) string { return p.EmployeeID })
		ids = append(ids, conv.CreatedBy)
		summaries, err = s.employees.Summaries(ctx, lo.Uniq(ids))
		if err != nil {
			return nil, err
		}
	}

	return s.enrichWithRoster(ctx, conv, viewerID, roster, summaries)
}

// enrichAll resolves employee summaries for a batch of conversations in one
// directory call, then enriches each.
func (s *conversationService) enrichAll(ctx context.Context, convs []model.Conversation, viewerID string) ([]model.ConversationDetail, error) {
	ids := make([]string, 0, len(convs)*4)
	rosters := make(map[string][]model.Participant, len(convs))

	for i := range convs {
		roster, err := s.participants.FindByConversation(ctx, convs[i].ConversationID)
		if err != nil {
			return nil, err
		}
		rosters[convs[i].ConversationID] = roster
		for _, p := range roster {
			ids = append(ids, p.EmployeeID)
		}
		ids = append(ids, convs[i].CreatedBy)
	}

	summaries, err := s.employees.Summaries(ctx, lo.Uniq(ids))
	if err != nil {
		return nil, err
	}

	details := make([]model.ConversationDetail, 0, len(convs))
	for i := range convs {
		detail, err := s.enrichWithRoster(ctx, convs[i], viewerID, rosters[convs[i].ConversationID], summaries)
		if err != nil {
			return nil, err
		}
		details = append(details, *detail)
	}
	return details, nil
}

func (s *conversationService) enrichWithRoster(ctx context.Context, conv model.Conversation, viewerID string, roster []model.Participant, summaries map[string]model.EmployeeSummary) (*model.ConversationDetail, error) {
	profiles := make([]model.ParticipantProfile, 0, len(roster))
	for _, p := range roster {
		summary, ok := summaries[p.EmployeeID]
		if !ok {
			summary = model.UnknownEmployee(p.EmployeeID)
		}
		profiles = append(profiles, model.ParticipantProfile{
			Participant: p,
			Name:        summary.Name,
			Email:       summary.Email,
			Image:       summary.Image,
		})
	}

	lastMessage, err := s.messages.LatestVisible(ctx, conv.ConversationID)
	if err != nil {
		return nil, err
	}

	detail := &model.ConversationDetail{
		Conversation: conv,
		Participants: profiles,
		LastMessage:  lastMessage,
		UnreadCount:  conv.UnreadFor(viewerID),
		IsDefault:    conv.IsTaskDefault,
	}

	if creator, ok := summaries[conv.CreatedBy]; ok {
		detail.Creator = &creator
	}

	if conv.Type == model.ConversationTypePrivate {
		for i := range profiles {
			if profiles[i].EmployeeID != viewerID {
				detail.OtherEmployee = &model.EmployeeSummary{
					EmployeeID: profiles[i].EmployeeID,
					Name:       profiles[i].Name,
					Email:      profiles[i].Email,
					Image:      profiles[i].Image,
				}
				break
			}
		}
	}

	return detail, nil
}

func (s *conversationService) notifyActors(employeeIDs []string, name string, payload any) {
	ev, err := event.NewEvent(name, payload)
	if err != nil {
		s.logger.Error("failed to encode realtime event", zap.String("event", name), zap.Error(err))
		return
	}
	s.notifier.NotifyActors(employeeIDs, ev)
}

func zeroCounters(roster []string) map[string]int64 {
	counters := make(map[string]int64, len(roster))
	for _, id := range roster {
		counters[id] = 0
	}
	return counters
}
