package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/model"
)

type fixture struct {
	convs    *fakeConversationRepo
	parts    *fakeParticipantRepo
	msgs     *fakeMessageRepo
	sink     *recordingSink
	notifier *recordingNotifier

	conversations ConversationService
	messages      MessageService
}

func newFixture() *fixture {
	f := &fixture{
		convs:    newFakeConversationRepo(),
		parts:    newFakeParticipantRepo(),
		msgs:     newFakeMessageRepo(),
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
	}

	tasks := &fakeTaskDirectory{tasks: map[string]*model.TaskInfo{
		"task-1": {TaskID: "task-1", CreatedBy: "mgr-1", AssignedTo: []string{"emp-1", "emp-2", "emp-3"}},
	}}
	employees := &fakeEmployeeDirectory{employees: map[string]model.EmployeeSummary{
		"emp-1": {EmployeeID: "emp-1", Name: "An Nguyen", Email: "an@corp.local"},
		"emp-2": {EmployeeID: "emp-2", Name: "Binh Tran", Email: "binh@corp.local"},
		"emp-3": {EmployeeID: "emp-3", Name: "Chi Le", Email: "chi@corp.local"},
		"mgr-1": {EmployeeID: "mgr-1", Name: "Dung Pham", Email: "dung@corp.local"},
	}}

	logger := zap.NewNop()
	f.conversations = NewConversationService(f.convs, f.parts, f.msgs, tasks, employees, f.sink, f.notifier, logger)
	f.messages = NewMessageService(f.msgs, f.convs, f.parts, f.sink, logger)
	return f
}

var (
	emp1    = model.Actor{EmployeeID: "emp-1", RoleID: "staff"}
	emp2    = model.Actor{EmployeeID: "emp-2", RoleID: "staff"}
	outside = model.Actor{EmployeeID: "emp-9", RoleID: "staff"}
	manager = model.Actor{EmployeeID: "mgr-1", RoleID: model.RoleManager}
)

func TestCreateDefaultTaskConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	conv, err := f.conversations.CreateDefaultTaskConversation(ctx, "task-1", "mgr-1", []string{"emp-1", "emp-2", "emp-1"})
	req.NoError(err)
	req.Equal(model.DefaultTaskConversationName, conv.Name)
	req.True(conv.IsTaskDefault)
	req.Equal(model.ConversationTypeTask, conv.Type)

	// duplicated assignee collapses; creator joins once
	req.Len(conv.UnreadCount, 3)
	for _, id := range []string{"mgr-1", "emp-1", "emp-2"} {
		ok, err := f.parts.Exists(ctx, conv.ConversationID, id)
		req.NoError(err)
		req.True(ok, "expected %s on roster", id)
	}

	creator, err := f.parts.Find(ctx, conv.ConversationID, "mgr-1")
	req.NoError(err)
	req.Equal(model.ConversationRoleOwner, creator.Role)

	// second default for the same task is rejected
	_, err = f.conversations.CreateDefaultTaskConversation(ctx, "task-1", "mgr-1", nil)
	req.ErrorIs(err, apperror.ErrConflict)
}

func TestAddParticipantsToDefaultTaskConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	conv, err := f.conversations.CreateDefaultTaskConversation(ctx, "task-1", "mgr-1", []string{"emp-1"})
	req.NoError(err)

	result, err := f.conversations.AddParticipantsToDefaultTaskConversation(ctx, "task-1", []string{"emp-1", "emp-2", "emp-3"})
	req.NoError(err)
	req.Equal(2, result.Count)
	req.ElementsMatch([]string{"emp-2", "emp-3"}, result.AddedParticipants)

	// counter keys created together with roster records
	stored, err := f.convs.FindByConversationID(ctx, conv.ConversationID)
	req.NoError(err)
	req.Contains(stored.UnreadCount, "emp-2")
	req.Contains(stored.UnreadCount, "emp-3")

	// no-op when every id is already present
	result, err = f.conversations.AddParticipantsToDefaultTaskConversation(ctx, "task-1", []string{"emp-2"})
	req.NoError(err)
	req.Zero(result.Count)
}

func TestCreateTaskConversationAccessRules(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	_, err := f.conversations.CreateTaskConversation(ctx, outside, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypeGroup, Name: "x", Participants: []string{"emp-1"},
	})
	req.ErrorIs(err, apperror.ErrForbidden)

	// assignee cannot pull in people outside the task
	_, err = f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypeGroup, Name: "x", Participants: []string{"emp-9"},
	})
	req.ErrorIs(err, apperror.ErrForbidden)

	// manager may, even with outsiders
	detail, err := f.conversations.CreateTaskConversation(ctx, manager, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypeGroup, Name: "planning", Participants: []string{"emp-9"},
	})
	req.NoError(err)
	req.Equal("planning", detail.Conversation.Name)
	req.Equal(model.ConversationTypeTask, detail.Conversation.Type)

	_, err = f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypeGroup, Participants: []string{"emp-2"},
	})
	req.ErrorIs(err, apperror.ErrInvalidArgument, "group without a name")
}

func TestCreateTaskConversationPrivateDedup(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	first, err := f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	req.Empty(first.Conversation.Name)

	second, err := f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	req.Equal(first.Conversation.ConversationID, second.Conversation.ConversationID)
}

func TestCreateConversationPrivateDedup(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	first, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	req.NotNil(first.OtherEmployee)
	req.Equal("emp-2", first.OtherEmployee.EmployeeID)

	// initiated from the other side lands on the same conversation
	second, err := f.conversations.CreateConversation(ctx, emp2, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-1"},
	})
	req.NoError(err)
	req.Equal(first.Conversation.ConversationID, second.Conversation.ConversationID)
	req.Equal("emp-1", second.OtherEmployee.EmployeeID)

	_, err = f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2", "emp-3"},
	})
	req.ErrorIs(err, apperror.ErrInvalidArgument)
}

func TestGetTaskConversationsVisibility(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	_, err := f.conversations.CreateDefaultTaskConversation(ctx, "task-1", "mgr-1", []string{"emp-1", "emp-2"})
	req.NoError(err)
	_, err = f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)

	// emp-3 is assigned but only on the default conversation
	_, err = f.conversations.AddParticipantsToDefaultTaskConversation(ctx, "task-1", []string{"emp-3"})
	req.NoError(err)

	visible, err := f.conversations.GetTaskConversations(ctx, "task-1", model.Actor{EmployeeID: "emp-3", RoleID: "staff"})
	req.NoError(err)
	req.Len(visible, 1)
	req.True(visible[0].IsDefault)

	all, err := f.conversations.GetTaskConversations(ctx, "task-1", manager)
	req.NoError(err)
	req.Len(all, 2)
	req.True(all[0].IsDefault, "default sorts first")

	_, err = f.conversations.GetTaskConversations(ctx, "task-1", outside)
	req.ErrorIs(err, apperror.ErrForbidden)
}

func TestJoinTaskConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	conv, err := f.conversations.CreateDefaultTaskConversation(ctx, "task-1", "emp-1", []string{"emp-2"})
	req.NoError(err)

	req.ErrorIs(f.conversations.JoinTaskConversation(ctx, conv.ConversationID, outside), apperror.ErrForbidden)

	req.NoError(f.conversations.JoinTaskConversation(ctx, conv.ConversationID, manager))
	joined, err := f.parts.Find(ctx, conv.ConversationID, "mgr-1")
	req.NoError(err)
	req.Equal(model.ConversationRoleOwner, joined.Role)

	stored, err := f.convs.FindByConversationID(ctx, conv.ConversationID)
	req.NoError(err)
	req.Contains(stored.UnreadCount, "mgr-1")

	req.ErrorIs(f.conversations.JoinTaskConversation(ctx, conv.ConversationID, manager), apperror.ErrConflict)
}

func TestGetConversationsFilterAndPaging(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	_, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	_, err = f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2", "emp-3"},
	})
	req.NoError(err)

	page, err := f.conversations.GetConversations(ctx, "emp-1", ListOptions{})
	req.NoError(err)
	req.Len(page.Conversations, 2)
	req.EqualValues(2, page.Pagination.Total)

	groups, err := f.conversations.GetConversations(ctx, "emp-1", ListOptions{Type: model.ConversationTypeGroup})
	req.NoError(err)
	req.Len(groups.Conversations, 1)
	req.Equal("squad", groups.Conversations[0].Conversation.Name)
}

func TestGetConversationDetailsEnrichment(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	detail, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	convID := detail.Conversation.ConversationID

	_, err = f.messages.CreateMessage(ctx, CreateMessageInput{
		SenderID: "emp-2", ReceiverID: "emp-1", ConversationID: convID, Content: "hello",
	})
	req.NoError(err)

	got, err := f.conversations.GetConversationDetails(ctx, convID, "emp-1")
	req.NoError(err)
	req.Len(got.Participants, 2)
	req.NotNil(got.LastMessage)
	req.Equal("hello", got.LastMessage.Content)
	req.EqualValues(1, got.UnreadCount)
	req.NotNil(got.Creator)
	req.Equal("An Nguyen", got.Creator.Name)

	_, err = f.conversations.GetConversationDetails(ctx, convID, "emp-9")
	req.ErrorIs(err, apperror.ErrForbidden)
}

func TestUpdateConversationPermissions(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	detail, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "before", Participants: []string{"emp-2"},
	})
	req.NoError(err)
	convID := detail.Conversation.ConversationID

	_, err = f.conversations.UpdateConversation(ctx, convID, "emp-2", "hijacked")
	req.ErrorIs(err, apperror.ErrForbidden)

	updated, err := f.conversations.UpdateConversation(ctx, convID, "emp-1", "after")
	req.NoError(err)
	req.Equal("after", updated.Conversation.Name)

	// private conversations cannot be renamed
	private, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-3"},
	})
	req.NoError(err)
	_, err = f.conversations.UpdateConversation(ctx, private.Conversation.ConversationID, "emp-1", "nope")
	req.ErrorIs(err, apperror.ErrInvalidArgument)
}

func TestRemoveParticipantRules(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	detail, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2", "emp-3"},
	})
	req.NoError(err)
	convID := detail.Conversation.ConversationID

	// member removing another member is forbidden
	err = f.conversations.RemoveParticipant(ctx, convID, "emp-2", "emp-3")
	req.ErrorIs(err, apperror.ErrForbidden)

	// the creator can never be removed, even by themselves
	err = f.conversations.RemoveParticipant(ctx, convID, "emp-1", "emp-1")
	req.ErrorIs(err, apperror.ErrForbidden)

	// self removal is always allowed
	req.NoError(f.conversations.LeaveConversation(ctx, convID, "emp-3"))
	ok, err := f.parts.Exists(ctx, convID, "emp-3")
	req.NoError(err)
	req.False(ok)

	// departure drops the counter key with the roster record
	stored, err := f.convs.FindByConversationID(ctx, convID)
	req.NoError(err)
	req.NotContains(stored.UnreadCount, "emp-3")

	// owner removes a member
	req.NoError(f.conversations.RemoveParticipant(ctx, convID, "emp-1", "emp-2"))
}

func TestDeleteConversationCascades(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	detail, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2"},
	})
	req.NoError(err)
	convID := detail.Conversation.ConversationID

	_, err = f.messages.CreateMessage(ctx, CreateMessageInput{
		SenderID: "emp-1", ConversationID: convID, Content: "bye",
	})
	req.NoError(err)

	req.ErrorIs(f.conversations.DeleteConversation(ctx, convID, "emp-2"), apperror.ErrForbidden)
	req.NoError(f.conversations.DeleteConversation(ctx, convID, "emp-1"))

	_, err = f.convs.FindByConversationID(ctx, convID)
	req.True(errors.Is(err, apperror.ErrNotFound))

	n, err := f.parts.CountByConversation(ctx, convID)
	req.NoError(err)
	req.Zero(n)

	latest, err := f.msgs.LatestVisible(ctx, convID)
	req.NoError(err)
	req.Nil(latest, "messages soft-deleted with the conversation")
}

func TestGetTotalUnreadCount(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	a, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	b, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2", "emp-3"},
	})
	req.NoError(err)

	for i := 0; i < 2; i++ {
		_, err = f.messages.CreateMessage(ctx, CreateMessageInput{
			SenderID: "emp-2", ConversationID: a.Conversation.ConversationID, Content: "ping",
		})
		req.NoError(err)
	}
	_, err = f.messages.CreateMessage(ctx, CreateMessageInput{
		SenderID: "emp-3", ConversationID: b.Conversation.ConversationID, Content: "pong",
	})
	req.NoError(err)

	total, err := f.conversations.GetTotalUnreadCount(ctx, "emp-1")
	req.NoError(err)
	req.EqualValues(3, total)

	none, err := f.conversations.GetTotalUnreadCount(ctx, "emp-9")
	req.NoError(err)
	req.Zero(none)
}

func TestCreateConversationNotifiesOthers(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	_, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2", "emp-3"},
	})
	req.NoError(err)

	req.Len(f.notifier.sent, 1)
	req.ElementsMatch([]string{"emp-2", "emp-3"}, f.notifier.sent[0].employeeIDs)
	req.Contains(f.sink.kinds(), "conversation.created")
}

func TestCreateConversationPairRaceReturnsWinner(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	// the rival request for the same pair commits between this caller's
	// dedup lookup and its insert; the pair key turns the duplicate into a
	// conflict and the caller gets the winner back
	var winnerID string
	f.convs.beforeInsert = func() {
		detail, err := f.conversations.CreateConversation(ctx, emp2, CreateConversationInput{
			Type: model.ConversationTypePrivate, Participants: []string{"emp-1"},
		})
		require.NoError(t, err)
		winnerID = detail.Conversation.ConversationID
	}

	detail, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	req.Equal(winnerID, detail.Conversation.ConversationID)
	req.Len(f.convs.convs, 1, "exactly one conversation for the pair")
}

func TestCreateTaskConversationPairRaceReturnsWinner(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	var winnerID string
	f.convs.beforeInsert = func() {
		detail, err := f.conversations.CreateTaskConversation(ctx, emp2, CreateTaskConversationInput{
			TaskID: "task-1", Kind: model.ConversationTypePrivate, Participants: []string{"emp-1"},
		})
		require.NoError(t, err)
		winnerID = detail.Conversation.ConversationID
	}

	detail, err := f.conversations.CreateTaskConversation(ctx, emp1, CreateTaskConversationInput{
		TaskID: "task-1", Kind: model.ConversationTypePrivate, Participants: []string{"emp-2"},
	})
	req.NoError(err)
	req.Equal(winnerID, detail.Conversation.ConversationID)
	req.Len(f.convs.convs, 1)
}

func TestCreateConversationRollsBackOnRosterFailure(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	ctx := context.Background()

	f.parts.failInsertFor = "emp-2"
	_, err := f.conversations.CreateConversation(ctx, emp1, CreateConversationInput{
		Type: model.ConversationTypeGroup, Name: "squad", Participants: []string{"emp-2"},
	})
	req.Error(err)

	// no conversation survives with counter keys but no roster
	req.Empty(f.convs.convs)
	req.Empty(f.parts.records)
	req.Empty(f.sink.kinds())
}
