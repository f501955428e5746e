package configuration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/db"
	"teamchat/internal/handler"
	"teamchat/internal/hub"
	"teamchat/internal/lookup"
	"teamchat/internal/model"
	"teamchat/internal/repo"
	"teamchat/internal/service"
)

type Container struct {
	ConversationHandler handler.ConversationHandler
	MessageHandler      handler.MessageHandler
	Hub                 *hub.Hub
	Gate                *auth.Gate
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	conversationStore := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	participantStore := db.NewRepository[model.Participant](con, config.ChatDatabase.ParticipantsCollection)
	messageStore := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)

	conversationRepo := repo.NewConversationRepository(conversationStore, logger)
	participantRepo := repo.NewParticipantRepository(participantStore, logger)
	messageRepo := repo.NewMessageRepository(messageStore, logger)

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, ensure := range []func(context.Context) error{
		conversationRepo.EnsureIndexes,
		participantRepo.EnsureIndexes,
		messageRepo.EnsureIndexes,
	} {
		if err := ensure(indexCtx); err != nil {
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
	}

	tasks := lookup.NewMongoTaskDirectory(con, config.ChatDatabase.TasksCollection)
	employees := lookup.NewMongoEmployeeDirectory(con, config.ChatDatabase.EmployeesCollection)
	sink := lookup.NewLogSink(logger)

	wsHub := hub.NewHub(config.Server.AllowedOrigins, logger)

	conversationService := service.NewConversationService(
		conversationRepo, participantRepo, messageRepo,
		tasks, employees, sink, wsHub, logger,
	)
	messageService := service.NewMessageService(
		messageRepo, conversationRepo, participantRepo, sink, logger,
	)

	wsHub.SetDispatcher(hub.NewChatDispatcher(wsHub, messageService, logger))

	gate := auth.NewGate(config.Auth.JwtSecret)

	return &Container{
		ConversationHandler: handler.NewConversationHandler(conversationService),
		MessageHandler:      handler.NewMessageHandler(messageService),
		Hub:                 wsHub,
		Gate:                gate,
		Config:              *config,
		Logger:              logger,
		mongoClient:         con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
